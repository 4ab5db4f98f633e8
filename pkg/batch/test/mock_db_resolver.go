package test

import (
	"context"

	"github.com/stretchr/testify/mock"

	dbadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	coreadapter "github.com/tigerroll/chunkbatch/pkg/batch/core/adapter"
)

// MockDBConnectionResolver is a mock implementation of the database.DBConnectionResolver interface.
type MockDBConnectionResolver struct {
	mock.Mock
}

// ResolveDBConnection mocks the ResolveDBConnection method.
func (m *MockDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (dbadapter.DBConnection, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(dbadapter.DBConnection), args.Error(1)
}

// ResolveConnection mocks the ResolveConnection method.
func (m *MockDBConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreadapter.ResourceConnection, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(coreadapter.ResourceConnection), args.Error(1)
}

// testSingleConnectionResolver always returns one predefined DBConnection, whatever the name.
type testSingleConnectionResolver struct {
	conn dbadapter.DBConnection
}

// NewTestSingleConnectionResolver creates a resolver that always returns conn.
//
// Parameters:
//
//	conn: The DBConnection this resolver will always return.
//
// Returns:
//
//	A test-specific DB connection resolver.
func NewTestSingleConnectionResolver(conn dbadapter.DBConnection) dbadapter.DBConnectionResolver {
	return &testSingleConnectionResolver{conn: conn}
}

// ResolveDBConnection implements the database.DBConnectionResolver interface.
func (r *testSingleConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (dbadapter.DBConnection, error) {
	return r.conn, nil
}

// ResolveConnection implements the coreadapter.ResourceConnectionResolver interface.
func (r *testSingleConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreadapter.ResourceConnection, error) {
	return r.conn, nil
}

var _ dbadapter.DBConnectionResolver = (*testSingleConnectionResolver)(nil)
var _ dbadapter.DBConnectionResolver = (*MockDBConnectionResolver)(nil)

// Package adapter declares the resource abstractions shared by the database and storage adapters.
package adapter

import (
	"context"
)

// ResourceConnection represents a generic connection to any resource (e.g., database, storage).
type ResourceConnection interface {
	// Close closes the resource connection.
	Close() error
	// Type returns the type of the resource (e.g., "mysql", "gcs").
	Type() string
	// Name returns the connection name (e.g., "default", "export").
	Name() string
}

// ResourceConnectionResolver resolves a named resource connection.
type ResourceConnectionResolver interface {
	// ResolveConnection resolves a resource connection instance by name.
	// The returned connection is valid; it is re-established if necessary.
	ResolveConnection(ctx context.Context, name string) (ResourceConnection, error)
}

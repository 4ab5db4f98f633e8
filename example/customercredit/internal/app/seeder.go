package app

import (
	"context"
	"fmt"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"

	"github.com/tigerroll/chunkbatch/example/customercredit/internal/domain/entity"
)

// Seeder loads the demo customers into the source connection.
type Seeder struct {
	dbResolver database.DBConnectionResolver
	dbName     string
}

// NewSeeder creates a Seeder writing to batch.source_db_ref.
func NewSeeder(dbResolver database.DBConnectionResolver, cfg *config.Config) *Seeder {
	return &Seeder{dbResolver: dbResolver, dbName: cfg.ChunkBatch.Batch.SourceDBRef}
}

// Seed upserts the demo customers. Seeding twice resets their credits.
func (s *Seeder) Seed(ctx context.Context) error {
	conn, err := s.dbResolver.ResolveDBConnection(ctx, s.dbName)
	if err != nil {
		return fmt.Errorf("failed to resolve DB connection '%s' for seeding: %w", s.dbName, err)
	}
	rows := entity.DemoCustomers()
	if _, err := conn.ExecuteUpsert(ctx, &rows, entity.CustomerCredit{}.TableName(), []string{"id"}, []string{"name", "credit"}); err != nil {
		return fmt.Errorf("failed to seed %s: %w", entity.CustomerCredit{}.TableName(), err)
	}
	logger.Infof("Seeded %d customers into '%s'.", len(rows), s.dbName)
	return nil
}

package migration

import (
	"embed"
	"io/fs"

	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/migration"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

//go:embed resource
var rawMigrationFS embed.FS

// Source returns the customer_credit table migrations, one directory per database type.
func Source() migration.Source {
	subFS, err := fs.Sub(rawMigrationFS, "resource")
	if err != nil {
		logger.Fatalf("Failed to create subdirectory for customer credit migration FS: %v", err)
	}
	return migration.Source{Name: "customercredit", FS: subFS}
}

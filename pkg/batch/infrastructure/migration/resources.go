package migration

import (
	"embed"
	"io/fs"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

//go:embed resource
var rawFrameworkMigrationFS embed.FS

// FrameworkMigrationsFS returns the embedded migrations of the batch metadata tables.
// It holds one directory per database type.
func FrameworkMigrationsFS() fs.FS {
	subFS, err := fs.Sub(rawFrameworkMigrationFS, "resource")
	if err != nil {
		// This should not happen if 'resource' exists.
		logger.Fatalf("Failed to create subdirectory for framework migration FS: %v", err)
	}
	return subFS
}

// Source is a set of application migrations, one directory per database type.
type Source struct {
	// Name identifies the source in logs.
	Name string
	FS   fs.FS
	// Table tracks the applied versions. Defaults to FixedAppMigrationsTable.
	Table string
}

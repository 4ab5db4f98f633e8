// Package local provides the Fx module for the local storage adapter.
package local

import (
	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
)

// Module registers the LocalProvider in the storage provider group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLocalProvider,
		fx.As(new(storageAdapter.StorageProvider)),
		fx.ResultTags(`group:"storage_providers"`),
	)),
)

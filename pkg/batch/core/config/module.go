package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts and provides *LoggingConfig from *Config.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.ChunkBatch.System.Logging
}

// NewBatchConfigProvider extracts and provides the engine section of *Config.
func NewBatchConfigProvider(cfg *Config) *BatchConfig {
	return &cfg.ChunkBatch.Batch
}

// Module provides configuration-related components to Fx.
// *Config itself is supplied by the application (see LoadConfig) or built by NewConfigProvider.
var Module = fx.Options(
	fx.Provide(NewLoggingConfigProvider),
	fx.Provide(NewBatchConfigProvider),
	fx.Provide(func() EnvironmentExpander {
		return NewOsEnvironmentExpander()
	}),
)

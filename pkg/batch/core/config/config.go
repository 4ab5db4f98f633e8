// Package config provides structures and utilities for managing application configuration.
package config

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys is a list of keys in JobParameters whose values should be masked in logs.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// FilterConfig describes the comparison filter applied by the paged source.
// The comparison value is taken from the job parameter named Parameter; when that
// parameter is absent from a launch, the source pages the whole table.
type FilterConfig struct {
	Field     string `yaml:"field"`     // Field is the column compared (e.g., "credit").
	Operator  string `yaml:"operator"`  // Operator is one of ">", ">=", "<", "<=", "=", "<>".
	Parameter string `yaml:"parameter"` // Parameter is the job parameter supplying the comparison value.
}

// BatchConfig holds configuration specific to the chunk engine.
type BatchConfig struct {
	// JobName is the name of the job launched by the application.
	JobName string `yaml:"job_name"`
	// StepName is the name of the single chunk step of the job.
	StepName string `yaml:"step_name"`
	// ChunkSize is the number of transformed records committed per transaction.
	ChunkSize int `yaml:"chunk_size"`
	// PageSize is the number of records fetched per source query. Zero means ChunkSize.
	PageSize int `yaml:"page_size"`
	// OrderKey is the column defining the stable paging order. The id column always breaks ties.
	OrderKey string `yaml:"order_key"`
	// Filter is the source filter definition.
	Filter FilterConfig `yaml:"filter"`
	// SourceDBRef is the name of the DB connection holding the records.
	// It must name the same connection as the job repository: a chunk's write and
	// its progress update commit in one transaction.
	SourceDBRef string `yaml:"source_db_ref"`
	// PollingIntervalSeconds is the interval for polling job status from another process.
	PollingIntervalSeconds int `yaml:"polling_interval_seconds"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// InfrastructureConfig holds logical dependency settings for infrastructure components.
type InfrastructureConfig struct {
	// JobRepositoryDBRef is the name of the DBConnection used by the job repository (e.g., "default").
	JobRepositoryDBRef string `yaml:"job_repository_db_ref"`
	// MigrateOnStart applies the embedded schema migrations before the job runs.
	MigrateOnStart bool `yaml:"migrate_on_start"`
}

// MetricsConfig selects and configures the metric recorder.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Backend is "prometheus" or "otlp".
	Backend string `yaml:"backend"`
	// ListenAddress serves /metrics when the prometheus backend is used (e.g., ":9090").
	ListenAddress string `yaml:"listen_address"`
	// Endpoint is the OTLP collector endpoint when the otlp backend is used.
	Endpoint string `yaml:"endpoint"`
	// Protocol is "grpc" or "http" for the otlp backend.
	Protocol string `yaml:"protocol"`
	// AsyncBufferSize enables asynchronous recording with a queue of this size. Zero records synchronously.
	AsyncBufferSize int `yaml:"async_buffer_size"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	// Protocol is "grpc" or "http".
	Protocol string `yaml:"protocol"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// ExportConfig configures the parquet snapshot produced after a completed job.
type ExportConfig struct {
	Enabled bool `yaml:"enabled"`
	// StorageRef is the name of the storage connection to upload to.
	StorageRef string `yaml:"storage_ref"`
	// Bucket is the bucket (or directory for local storage) receiving the file.
	Bucket string `yaml:"bucket"`
	// OutputBaseDir is the object prefix of exported files.
	OutputBaseDir string `yaml:"output_base_dir"`
	// CompressionType is "SNAPPY", "GZIP" or "NONE".
	CompressionType string `yaml:"compression_type"`
}

// ChunkBatchConfig holds all configuration under the "chunkbatch" top-level key.
type ChunkBatchConfig struct {
	Batch          BatchConfig          `yaml:"batch"`
	System         SystemConfig         `yaml:"system"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	Security       SecurityConfig       `yaml:"security"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Tracing        TracingConfig        `yaml:"tracing"`
	Export         ExportConfig         `yaml:"export"`
	// DatabaseConfigs holds named database connections, decoded per connection with mapstructure.
	DatabaseConfigs map[string]interface{} `yaml:"database"`
	// StorageConfigs holds named storage connections, decoded per connection with mapstructure.
	StorageConfigs map[string]interface{} `yaml:"storage"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	ChunkBatch ChunkBatchConfig `yaml:"chunkbatch"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// GlobalConfig is a pointer to the configuration instance shared across the application.
// It is set by NewConfigProvider.
var GlobalConfig *Config

// GetMaskedParameterKeys retrieves the list of keys to be masked from the global configuration.
func GetMaskedParameterKeys() []string {
	if GlobalConfig == nil {
		return []string{"password", "api_key", "secret"}
	}
	return GlobalConfig.ChunkBatch.Security.MaskedParameterKeys
}

// EffectivePageSize returns PageSize, falling back to ChunkSize when unset.
func (b BatchConfig) EffectivePageSize() int {
	if b.PageSize > 0 {
		return b.PageSize
	}
	return b.ChunkSize
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		ChunkBatch: ChunkBatchConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Batch: BatchConfig{
				JobName:                "ioSampleJob",
				StepName:               "step1",
				ChunkSize:              2,
				OrderKey:               "id",
				SourceDBRef:            "default",
				PollingIntervalSeconds: 1,
			},
			Infrastructure: InfrastructureConfig{
				JobRepositoryDBRef: "default",
				MigrateOnStart:     true,
			},
			Security: SecurityConfig{
				MaskedParameterKeys: []string{"password", "api_key", "secret"},
			},
			Metrics: MetricsConfig{
				Backend:       "prometheus",
				ListenAddress: ":9090",
				Protocol:      "grpc",
			},
			Tracing: TracingConfig{
				ServiceName: "chunkbatch",
				Protocol:    "grpc",
			},
			Export: ExportConfig{
				CompressionType: "SNAPPY",
			},
			DatabaseConfigs: map[string]interface{}{},
			StorageConfigs:  map[string]interface{}{},
		},
	}
}

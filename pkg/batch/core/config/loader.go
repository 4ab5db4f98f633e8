package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string              `name:"envFilePath" optional:"true"`
	Expander       EnvironmentExpander `optional:"true"`
}

// loadConfig builds the configuration in three layers: defaults from NewConfig,
// the embedded YAML (after ${VAR} expansion), and finally environment variables
// derived from the yaml tags (e.g. CHUNKBATCH_BATCH_CHUNK_SIZE).
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Debugf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	}
	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}

	cfg := NewConfig()

	expanded, err := expander.Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to expand environment placeholders", err)
	}
	// Unmarshalling onto the defaults keeps every key the YAML omits.
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err)
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err)
	}
	cfg.EmbeddedConfig = embeddedConfig

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It also sets the global config and the logger level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig, params.Expander)
	if err != nil {
		return nil, err
	}
	GlobalConfig = cfg

	logger.SetLogLevel(cfg.ChunkBatch.System.Logging.Level)
	logger.Debugf("Log level set to: %s", cfg.ChunkBatch.System.Logging.Level)
	return cfg, nil
}

// LoadConfig loads configuration from the embedded YAML and environment variables.
// This function is expected to be called only once during application startup.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig, nil)
}

// DecodeSection decodes one named entry of a connection map (database or storage) into out.
// Values coming from environment variables are strings, so weak typing is enabled.
func DecodeSection(section map[string]interface{}, name string, out interface{}) error {
	raw, ok := section[name]
	if !ok {
		return fmt.Errorf("configuration for '%s' not found", name)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode configuration for '%s': %w", name, err)
	}
	return nil
}

func validate(cfg *Config) error {
	b := cfg.ChunkBatch.Batch
	if b.ChunkSize <= 0 {
		return exception.NewBatchErrorf(moduleName, "batch.chunk_size must be positive, got %d", b.ChunkSize)
	}
	if b.PageSize < 0 {
		return exception.NewBatchErrorf(moduleName, "batch.page_size must not be negative, got %d", b.PageSize)
	}
	if b.JobName == "" || b.StepName == "" {
		return exception.NewBatchErrorf(moduleName, "batch.job_name and batch.step_name are required")
	}
	if b.SourceDBRef != cfg.ChunkBatch.Infrastructure.JobRepositoryDBRef {
		return exception.NewBatchErrorf(moduleName, "batch.source_db_ref (%s) must match infrastructure.job_repository_db_ref (%s)",
			b.SourceDBRef, cfg.ChunkBatch.Infrastructure.JobRepositoryDBRef)
	}
	if b.Filter.Field != "" {
		switch b.Filter.Operator {
		case ">", ">=", "<", "<=", "=", "<>":
		default:
			return exception.NewBatchErrorf(moduleName, "unsupported filter operator '%s'", b.Filter.Operator)
		}
	}
	return nil
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// It uses the "yaml" tag to determine the environment variable name.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		switch {
		case field.Kind() == reflect.Struct:
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		case field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Interface:
			loadMapFromEnv(field, envVarName+"_")
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapFromEnv loads entries of a map[string]interface{} connection section from environment variables.
//
// Example: CHUNKBATCH_DATABASE_WORKLOAD_HOST=localhost sets database.workload.host.
// The first segment after the prefix is the connection name, the rest is the field.
func loadMapFromEnv(mapField reflect.Value, prefix string) {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndField := strings.SplitN(parts[0], "_", 2)
		if len(keyAndField) != 2 {
			continue
		}
		name := strings.ToLower(keyAndField[0])
		fieldName := strings.ToLower(keyAndField[1])

		entry := map[string]interface{}{}
		if existing := mapField.MapIndex(reflect.ValueOf(name)); existing.IsValid() {
			if m, ok := existing.Interface().(map[string]interface{}); ok {
				entry = m
			}
		}
		entry[fieldName] = parts[1]
		mapField.SetMapIndex(reflect.ValueOf(name), reflect.ValueOf(entry))
	}
}

// setField sets the value of a reflect.Value field based on its kind.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			items := strings.Split(value, ",")
			for i := range items {
				items[i] = strings.TrimSpace(items[i])
			}
			field.Set(reflect.ValueOf(items))
		}
	}
	return nil
}

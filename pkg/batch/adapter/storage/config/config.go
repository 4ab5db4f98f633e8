// Package config holds the configuration of a single storage connection.
package config

// StorageConfig holds configuration for a single storage connection.
// Entries are decoded from the "storage" section of the application configuration.
type StorageConfig struct {
	Type            string `yaml:"type"`             // Type of storage ("local" or "gcs").
	BucketName      string `yaml:"bucket_name"`      // Default bucket name for operations.
	CredentialsFile string `yaml:"credentials_file"` // Path to a service account key file for GCS. Empty uses application default credentials.
	Endpoint        string `yaml:"endpoint"`         // Optional endpoint override for GCS (e.g., an emulator).
	BaseDir         string `yaml:"base_dir"`         // Base directory for local file system operations.
}

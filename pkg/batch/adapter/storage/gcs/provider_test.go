package gcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageConfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
	coreConfig "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

func TestClientOptions(t *testing.T) {
	assert.Empty(t, clientOptions(storageConfig.StorageConfig{}))
	assert.Len(t, clientOptions(storageConfig.StorageConfig{CredentialsFile: "/etc/key.json"}), 1)
	assert.Len(t, clientOptions(storageConfig.StorageConfig{Endpoint: "http://localhost:4443/storage/v1/"}), 2)
}

func TestGCSProvider_RejectsOtherTypes(t *testing.T) {
	cfg := coreConfig.NewConfig()
	cfg.ChunkBatch.StorageConfigs = map[string]interface{}{
		"export": map[string]interface{}{"type": "local", "base_dir": "/tmp"},
	}
	p := NewGCSProvider(cfg)
	_, err := p.GetConnection("export")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type mismatch")
	assert.Equal(t, "gcs", p.Type())
	assert.NoError(t, p.CloseAll())
}

func TestGCSAdapter_BucketFallsBackToConfig(t *testing.T) {
	a := &gcsAdapter{cfg: storageConfig.StorageConfig{}, name: "export"}
	_, err := a.bucket("")
	assert.Error(t, err)
}

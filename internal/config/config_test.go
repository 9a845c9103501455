package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EnvOverrides(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/raged")
	os.Setenv("VECTOR_DIM", "1536")
	os.Setenv("RAGED_API_TOKEN", "secret")
	os.Setenv("ENRICHMENT_ENABLED", "true")
	defer func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("VECTOR_DIM")
		os.Unsetenv("RAGED_API_TOKEN")
		os.Unsetenv("ENRICHMENT_ENABLED")
	}()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/raged", cfg.Database.URL)
	assert.Equal(t, 1536, cfg.Vector.Dimension)
	assert.Equal(t, "secret", cfg.Auth.Token)
	assert.True(t, cfg.Enrichment.Enabled)
}

func TestValidate_RequiresDatabaseURL(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestBlobStoreConfig_Enabled(t *testing.T) {
	var b BlobStoreConfig
	assert.False(t, b.Enabled())
	b.Endpoint = "https://s3.example.com"
	b.Bucket = "docs"
	assert.True(t, b.Enabled())
}

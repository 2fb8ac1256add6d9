package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Server.ToolTimeout)
	assert.Equal(t, 384, cfg.Dataset.Dimension)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "stdout", cfg.Audit.Backend)
	assert.Equal(t, "hash", cfg.Embedder.Provider)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("CONTEXTFRAME_PORT", "9090")
	t.Setenv("CONTEXTFRAME_DATASET_PATH", "file:///data/ds.cf")
	t.Setenv("CONTEXTFRAME_DIMENSION", "768")
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "file:///data/ds.cf", cfg.Dataset.URI)
	assert.Equal(t, 768, cfg.Dataset.Dimension)
	assert.Equal(t, "eu-west-1", cfg.Dataset.StorageOptions["region"])
	assert.Equal(t, "0.0.0.0:9090", cfg.GetServerAddress())
}

func TestLoadConfigTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cf.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 7070
workers = 2

[dataset]
dimension = 512
`), 0o644))
	t.Setenv("CONTEXTFRAME_CONFIG", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Server.Workers)
	assert.Equal(t, 512, cfg.Dataset.Dimension)
}

func TestEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cf.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 7070\n"), 0o644))
	t.Setenv("CONTEXTFRAME_CONFIG", path)
	t.Setenv("CONTEXTFRAME_PORT", "6060")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.Port)
}

func TestValidateConfigFailures(t *testing.T) {
	t.Setenv("CONTEXTFRAME_AUTH_ENABLED", "true")
	_, err := LoadConfig()
	require.Error(t, err, "auth enabled without a secret or API keys must fail")

	t.Setenv("CONTEXTFRAME_AUTH_ENABLED", "false")
	t.Setenv("CONTEXTFRAME_AUDIT_BACKEND", "kafka")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestAPIKeysFromEnv(t *testing.T) {
	t.Setenv("CONTEXTFRAME_API_KEYS", "k1=ci, k2=ops")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "ci", cfg.Auth.APIKeys["k1"])
	assert.Equal(t, "ops", cfg.Auth.APIKeys["k2"])
}

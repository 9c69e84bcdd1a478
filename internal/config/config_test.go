package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, 100.0, cfg.BodyMapWidth)
	assert.True(t, cfg.InlineMerge)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("API_KEYS", "k1:portal, k2:kiosk")
	t.Setenv("BODYMAP_WIDTH", "400")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 400.0, cfg.BodyMapWidth)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Brokers())

	keys, err := cfg.APIKeyMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k1": "portal", "k2": "kiosk"}, keys)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9999\nUPLOAD_WORKERS=2\n"), 0o600))

	cfg, err := load(path)
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 2, cfg.UploadWorkers)
}

func TestValidate(t *testing.T) {
	base := Config{Store: StoreMemory, UploadWorkers: 1, BodyMapWidth: 100}
	require.NoError(t, base.Validate())

	bad := base
	bad.Store = "mongo"
	assert.Error(t, bad.Validate())

	bad = base
	bad.Env = "production"
	assert.Error(t, bad.Validate(), "production needs auth")

	bad = base
	bad.APIKeys = "justakey"
	assert.Error(t, bad.Validate())

	bad = base
	bad.Store = StorePostgres
	assert.Error(t, bad.Validate())
}

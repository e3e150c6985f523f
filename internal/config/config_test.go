package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/chronicle/internal/config"
	"github.com/scrypster/chronicle/internal/storage/sqlite"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 7171, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "sqlite", cfg.Storage.StorageEngine)
	assert.Equal(t, "./data", cfg.Storage.DataPath)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.OllamaURL)
	assert.Equal(t, 5.0, cfg.LLM.RequestsPerSecond)
	assert.Equal(t, 3, cfg.Engine.ExtractionRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.RetryBackoff)
	assert.Equal(t, 128, cfg.Engine.SubgraphCacheSize)
	assert.False(t, cfg.Importer.Enabled)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("CHRONICLE_PORT", "9999")
	t.Setenv("CHRONICLE_HOST", "0.0.0.0")
	t.Setenv("CHRONICLE_RETRY_BACKOFF", "50ms")
	t.Setenv("CHRONICLE_LLM_RPS", "2.5")
	t.Setenv("CHRONICLE_IMPORT_ENABLED", "yes")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 50*time.Millisecond, cfg.Engine.RetryBackoff)
	assert.Equal(t, 2.5, cfg.LLM.RequestsPerSecond)
	assert.True(t, cfg.Importer.Enabled)
}

func TestLoadConfigUnparseableValuesFallBack(t *testing.T) {
	t.Setenv("CHRONICLE_PORT", "not-a-number")
	t.Setenv("CHRONICLE_RETRY_BACKOFF", "soon")
	t.Setenv("CHRONICLE_IMPORT_ENABLED", "maybe")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 7171, cfg.Server.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.RetryBackoff)
	assert.False(t, cfg.Importer.Enabled)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Run("postgres requires DSN", func(t *testing.T) {
		t.Setenv("CHRONICLE_STORAGE_ENGINE", "postgres")
		_, err := config.LoadConfig()
		assert.Error(t, err)
	})

	t.Run("unknown storage engine", func(t *testing.T) {
		t.Setenv("CHRONICLE_STORAGE_ENGINE", "etcd")
		_, err := config.LoadConfig()
		assert.Error(t, err)
	})

	t.Run("openai requires key", func(t *testing.T) {
		t.Setenv("CHRONICLE_LLM_PROVIDER", "openai")
		_, err := config.LoadConfig()
		assert.Error(t, err)
	})

	t.Run("anthropic requires key", func(t *testing.T) {
		t.Setenv("CHRONICLE_LLM_PROVIDER", "anthropic")
		_, err := config.LoadConfig()
		assert.Error(t, err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		t.Setenv("CHRONICLE_LLM_PROVIDER", "llamafile")
		_, err := config.LoadConfig()
		assert.Error(t, err)
	})
}

func TestConfigDatabaseRoundTrip(t *testing.T) {
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	db := store.GetDB()

	// No persisted setting yet: env var value wins.
	t.Setenv("CHRONICLE_INSTANCE_NAME", "from-env")
	cfg, err := config.LoadConfigFromDB(db)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Instance.InstanceName)

	// Persisted value overrides the env var on the next load.
	cfg.Instance.InstanceName = "from-db"
	require.NoError(t, cfg.SaveConfig(db))

	reloaded, err := config.LoadConfigFromDB(db)
	require.NoError(t, err)
	assert.Equal(t, "from-db", reloaded.Instance.InstanceName)

	// Saving again updates in place.
	reloaded.Instance.InstanceName = "renamed"
	require.NoError(t, reloaded.SaveConfig(db))
	again, err := config.LoadConfigFromDB(db)
	require.NoError(t, err)
	assert.Equal(t, "renamed", again.Instance.InstanceName)
}

func TestLoadConfigFromDBRequiresDB(t *testing.T) {
	_, err := config.LoadConfigFromDB(nil)
	assert.Error(t, err)
}

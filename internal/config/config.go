// Package config provides configuration management for Chronicle.
// It loads settings from environment variables with the CHRONICLE_ prefix
// and provides sensible defaults for all configuration options.
//
// Instance settings (e.g., instance_name) are persisted to the settings table
// in the database. LoadConfigFromDB reads from the database first and falls
// back to environment variables. SaveConfig writes instance settings to the
// database.
package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the Chronicle daemon.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	LLM      LLMConfig
	Engine   EngineConfig
	Importer ImporterConfig
	Instance InstanceConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 7171)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	StorageEngine string // Storage engine for memory items: sqlite, postgres (default: sqlite)
	DataPath      string // Path to data directory (default: ./data)
	PostgresDSN   string // Postgres connection string, required when StorageEngine is postgres
}

// LLMConfig contains LLM provider configuration.
type LLMConfig struct {
	Provider             string  // LLM provider: ollama, openai, anthropic (default: ollama)
	OllamaURL            string  // Ollama API URL (default: http://localhost:11434)
	OllamaModel          string  // Ollama model name for extraction (default: qwen2.5:7b)
	OllamaEmbeddingModel string  // Ollama model name for embeddings (default: nomic-embed-text)
	OpenAIAPIKey         string  // OpenAI API key
	OpenAIModel          string  // OpenAI model name (default: gpt-4o-mini)
	OpenAIEmbeddingModel string  // OpenAI embedding model (default: text-embedding-3-small)
	AnthropicAPIKey      string  // Anthropic API key
	AnthropicModel       string  // Anthropic model name (default: claude-haiku-4-5-20251001)
	RequestsPerSecond    float64 // Rate limit for model calls (default: 5)
}

// EngineConfig contains evolution and retrieval tuning.
type EngineConfig struct {
	ExtractionRetries int           // Extraction retry budget (default: 3)
	RetryBackoff      time.Duration // Initial retry backoff, doubled per attempt (default: 500ms)
	SubgraphCacheSize int           // LRU size for retrieval subgraph expansions (default: 128)
}

// ImporterConfig contains the note drop-directory watcher settings.
type ImporterConfig struct {
	Enabled  bool   // Watch a drop directory for note files (default: false)
	WatchDir string // Directory to watch (default: ./inbox)
}

// InstanceConfig contains instance settings that persist across restarts.
// These settings are stored in the settings table in the database.
type InstanceConfig struct {
	// InstanceName is the display name reported by the health endpoint.
	// Env var: CHRONICLE_INSTANCE_NAME
	// Database key: instance_name
	InstanceName string
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the CHRONICLE_ prefix. Instance
// settings are loaded from environment variables only; use LoadConfigFromDB
// to also read persisted instance settings from the database.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromDB loads configuration from both environment variables and
// the database. The database value takes precedence over the environment
// variable for instance settings; it falls back to the environment variable
// when no DB entry exists.
func LoadConfigFromDB(db *sql.DB) (*Config, error) {
	if db == nil {
		return nil, errors.New("config: database connection is required")
	}

	cfg := buildBaseConfig()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	instanceName, err := getSetting(db, "instance_name")
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("config: failed to load instance_name from database: %w", err)
	}
	if instanceName != "" {
		cfg.Instance.InstanceName = instanceName
	}

	return cfg, nil
}

// SaveConfig persists instance settings to the settings table in the
// database, with upsert semantics so they survive restarts.
func (c *Config) SaveConfig(db *sql.DB) error {
	if db == nil {
		return errors.New("config: database connection is required")
	}

	if err := setSetting(db, "instance_name", c.Instance.InstanceName); err != nil {
		return fmt.Errorf("config: failed to save instance_name: %w", err)
	}
	return nil
}

// validate rejects combinations that cannot start a working daemon.
func (c *Config) validate() error {
	switch c.Storage.StorageEngine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: CHRONICLE_POSTGRES_DSN is required when storage engine is postgres")
		}
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.StorageEngine)
	}

	switch c.LLM.Provider {
	case "ollama":
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return errors.New("config: CHRONICLE_OPENAI_API_KEY is required when provider is openai")
		}
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			return errors.New("config: CHRONICLE_ANTHROPIC_API_KEY is required when provider is anthropic")
		}
	default:
		return fmt.Errorf("config: unknown LLM provider %q", c.LLM.Provider)
	}
	return nil
}

// getSetting retrieves a single setting value by key from the settings table.
// Returns an empty string and sql.ErrNoRows if the key does not exist.
func getSetting(db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

// setSetting writes a key-value pair to the settings table using upsert semantics.
func setSetting(db *sql.DB, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults. This is the shared base for both LoadConfig and LoadConfigFromDB.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("CHRONICLE_PORT", 7171),
			Host: getEnv("CHRONICLE_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			StorageEngine: getEnv("CHRONICLE_STORAGE_ENGINE", "sqlite"),
			DataPath:      getEnv("CHRONICLE_DATA_PATH", "./data"),
			PostgresDSN:   getEnv("CHRONICLE_POSTGRES_DSN", ""),
		},
		LLM: LLMConfig{
			Provider:             getEnv("CHRONICLE_LLM_PROVIDER", "ollama"),
			OllamaURL:            getEnv("CHRONICLE_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:          getEnv("CHRONICLE_OLLAMA_MODEL", "qwen2.5:7b"),
			OllamaEmbeddingModel: getEnv("CHRONICLE_EMBEDDING_MODEL", "nomic-embed-text"),
			OpenAIAPIKey:         getEnv("CHRONICLE_OPENAI_API_KEY", ""),
			OpenAIModel:          getEnv("CHRONICLE_OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIEmbeddingModel: getEnv("CHRONICLE_OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			AnthropicAPIKey:      getEnv("CHRONICLE_ANTHROPIC_API_KEY", ""),
			AnthropicModel:       getEnv("CHRONICLE_ANTHROPIC_MODEL", "claude-haiku-4-5-20251001"),
			RequestsPerSecond:    getEnvFloat("CHRONICLE_LLM_RPS", 5),
		},
		Engine: EngineConfig{
			ExtractionRetries: getEnvInt("CHRONICLE_EXTRACTION_RETRIES", 3),
			RetryBackoff:      getEnvDuration("CHRONICLE_RETRY_BACKOFF", 500*time.Millisecond),
			SubgraphCacheSize: getEnvInt("CHRONICLE_SUBGRAPH_CACHE_SIZE", 128),
		},
		Importer: ImporterConfig{
			Enabled:  getEnvBool("CHRONICLE_IMPORT_ENABLED", false),
			WatchDir: getEnv("CHRONICLE_IMPORT_DIR", "./inbox"),
		},
		Instance: InstanceConfig{
			InstanceName: getEnv("CHRONICLE_INSTANCE_NAME", ""),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. If the environment variable exists but cannot be parsed as an
// integer, it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "500ms") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false.
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

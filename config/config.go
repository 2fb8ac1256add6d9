package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the immutable process configuration, assembled once at startup:
// built-in defaults, then the optional TOML file named by
// CONTEXTFRAME_CONFIG, then environment variables. Unknown environment
// variables are inert.
type Config struct {
	Server   ServerConfig   `json:"server" toml:"server"`
	Dataset  DatasetConfig  `json:"dataset" toml:"dataset"`
	Auth     AuthConfig     `json:"auth" toml:"auth"`
	Redis    RedisConfig    `json:"redis" toml:"redis"`
	Audit    AuditConfig    `json:"audit" toml:"audit"`
	Embedder EmbedderConfig `json:"embedder" toml:"embedder"`
}

type ServerConfig struct {
	Host         string `json:"host" toml:"host"`
	Port         int    `json:"port" toml:"port"`
	ReadTimeout  int    `json:"read_timeout" toml:"read_timeout"`
	WriteTimeout int    `json:"write_timeout" toml:"write_timeout"`
	IdleTimeout  int    `json:"idle_timeout" toml:"idle_timeout"`
	// ToolTimeout is the per-tool deadline in seconds.
	ToolTimeout int `json:"tool_timeout" toml:"tool_timeout"`
	// Workers bounds concurrent tool execution on the HTTP transport.
	Workers        int      `json:"workers" toml:"workers"`
	AllowedOrigins []string `json:"allowed_origins" toml:"allowed_origins"`
}

type DatasetConfig struct {
	// URI is the default dataset the server opens at startup.
	URI string `json:"uri" toml:"uri"`
	// Dimension is used when the server creates the dataset.
	Dimension int `json:"dimension" toml:"dimension"`
	// StorageOptions passes credentials to object-store backends.
	StorageOptions map[string]string `json:"storage_options" toml:"storage_options"`
}

type AuthConfig struct {
	Enabled   bool   `json:"enabled" toml:"enabled"`
	JWTSecret string `json:"jwt_secret" toml:"jwt_secret"`
	// APIKeys maps key -> caller name for static API-key auth.
	APIKeys map[string]string `json:"api_keys" toml:"api_keys"`
	// RateLimitPerMinute is the token-bucket refill per caller; 0 disables.
	RateLimitPerMinute int `json:"rate_limit_per_minute" toml:"rate_limit_per_minute"`
	RateLimitBurst     int `json:"rate_limit_burst" toml:"rate_limit_burst"`
	// DeniedTools lists tool names no caller may invoke.
	DeniedTools []string `json:"denied_tools" toml:"denied_tools"`
}

type RedisConfig struct {
	Host        string `json:"host" toml:"host"`
	Port        int    `json:"port" toml:"port"`
	Password    string `json:"password" toml:"password"`
	DB          int    `json:"db" toml:"db"`
	EnableCache bool   `json:"enable_cache" toml:"enable_cache"`
	CacheTTL    int    `json:"cache_ttl" toml:"cache_ttl"` // seconds
}

type AuditConfig struct {
	// Backend is "stdout" or "postgres".
	Backend string `json:"backend" toml:"backend"`
	// PostgresDSN is required for the postgres backend.
	PostgresDSN string `json:"postgres_dsn" toml:"postgres_dsn"`
}

type EmbedderConfig struct {
	// Provider is "hash" (built-in, deterministic) or "none".
	Provider string `json:"provider" toml:"provider"`
	// Dimension must match the dataset dimension when set.
	Dimension int `json:"dimension" toml:"dimension"`
}

// LoadConfig assembles the configuration. The TOML file is optional; a set
// CONTEXTFRAME_CONFIG pointing at an unreadable file is an error.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONTEXTFRAME_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30,
			WriteTimeout:   30,
			IdleTimeout:    60,
			ToolTimeout:    30,
			Workers:        8,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Dataset: DatasetConfig{
			Dimension:      384,
			StorageOptions: map[string]string{},
		},
		Auth: AuthConfig{
			Enabled:            false,
			RateLimitPerMinute: 0,
			RateLimitBurst:     10,
		},
		Redis: RedisConfig{
			Host:        "",
			Port:        6379,
			EnableCache: true,
			CacheTTL:    1800,
		},
		Audit: AuditConfig{
			Backend: "stdout",
		},
		Embedder: EmbedderConfig{
			Provider:  "hash",
			Dimension: 384,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("CONTEXTFRAME_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsInt("CONTEXTFRAME_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvAsInt("CONTEXTFRAME_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvAsInt("CONTEXTFRAME_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvAsInt("CONTEXTFRAME_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ToolTimeout = getEnvAsInt("CONTEXTFRAME_TOOL_TIMEOUT", cfg.Server.ToolTimeout)
	cfg.Server.Workers = getEnvAsInt("CONTEXTFRAME_WORKERS", cfg.Server.Workers)
	cfg.Server.AllowedOrigins = getEnvAsSlice("CONTEXTFRAME_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	cfg.Dataset.URI = getEnv("CONTEXTFRAME_DATASET_PATH", cfg.Dataset.URI)
	cfg.Dataset.Dimension = getEnvAsInt("CONTEXTFRAME_DIMENSION", cfg.Dataset.Dimension)
	// Object-store credentials flow through the storage-options map; the
	// AWS SDK default chain still applies when these are unset.
	setIfEnv(cfg.Dataset.StorageOptions, "access_key_id", "AWS_ACCESS_KEY_ID")
	setIfEnv(cfg.Dataset.StorageOptions, "secret_access_key", "AWS_SECRET_ACCESS_KEY")
	setIfEnv(cfg.Dataset.StorageOptions, "session_token", "AWS_SESSION_TOKEN")
	setIfEnv(cfg.Dataset.StorageOptions, "region", "AWS_REGION")
	setIfEnv(cfg.Dataset.StorageOptions, "endpoint", "AWS_ENDPOINT_URL")

	cfg.Auth.Enabled = getEnvAsBool("CONTEXTFRAME_AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.JWTSecret = getEnv("CONTEXTFRAME_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.RateLimitPerMinute = getEnvAsInt("CONTEXTFRAME_RATE_LIMIT", cfg.Auth.RateLimitPerMinute)
	cfg.Auth.RateLimitBurst = getEnvAsInt("CONTEXTFRAME_RATE_LIMIT_BURST", cfg.Auth.RateLimitBurst)
	if keys := os.Getenv("CONTEXTFRAME_API_KEYS"); keys != "" {
		// key=name pairs, comma separated
		if cfg.Auth.APIKeys == nil {
			cfg.Auth.APIKeys = map[string]string{}
		}
		for _, pair := range strings.Split(keys, ",") {
			k, name, ok := strings.Cut(pair, "=")
			if ok {
				cfg.Auth.APIKeys[strings.TrimSpace(k)] = strings.TrimSpace(name)
			}
		}
	}

	cfg.Redis.Host = getEnv("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getEnvAsInt("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.EnableCache = getEnvAsBool("CONTEXTFRAME_ENABLE_CACHE", cfg.Redis.EnableCache)
	cfg.Redis.CacheTTL = getEnvAsInt("CONTEXTFRAME_CACHE_TTL", cfg.Redis.CacheTTL)

	cfg.Audit.Backend = getEnv("CONTEXTFRAME_AUDIT_BACKEND", cfg.Audit.Backend)
	cfg.Audit.PostgresDSN = getEnv("CONTEXTFRAME_AUDIT_POSTGRES_DSN", cfg.Audit.PostgresDSN)

	cfg.Embedder.Provider = getEnv("CONTEXTFRAME_EMBEDDER", cfg.Embedder.Provider)
	cfg.Embedder.Dimension = getEnvAsInt("CONTEXTFRAME_EMBEDDER_DIMENSION", cfg.Embedder.Dimension)
}

func setIfEnv(m map[string]string, key, env string) {
	if v := os.Getenv(env); v != "" {
		m[key] = v
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Auth.Enabled && cfg.Auth.JWTSecret == "" && len(cfg.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth is enabled but neither CONTEXTFRAME_JWT_SECRET nor CONTEXTFRAME_API_KEYS is set")
	}
	switch cfg.Audit.Backend {
	case "stdout", "postgres":
	default:
		return fmt.Errorf("unknown audit backend %q", cfg.Audit.Backend)
	}
	if cfg.Audit.Backend == "postgres" && cfg.Audit.PostgresDSN == "" {
		return fmt.Errorf("postgres audit backend requires CONTEXTFRAME_AUDIT_POSTGRES_DSN")
	}
	switch cfg.Embedder.Provider {
	case "hash", "none":
	default:
		return fmt.Errorf("unknown embedder provider %q", cfg.Embedder.Provider)
	}
	return nil
}

// GetServerAddress returns host:port for the HTTP listener.
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

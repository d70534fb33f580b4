// Package config loads engine configuration from config.yaml with
// environment variable overrides. Secrets only come from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the engine.
// Environment variables always override YAML values.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database holds the engine's own PostgreSQL (learning records).
	Database DatabaseConfig `yaml:"database"`

	// Tenants points at the tenant descriptor file consumed by the
	// static resolver.
	TenantsFile string `yaml:"tenants_file" env:"TENANTS_FILE" env-default:"tenants.yaml"`

	// MigrationsPath is the directory holding engine schema migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	Pool      PoolConfig      `yaml:"pool"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	LLM       LLMConfig       `yaml:"llm"`
}

// DatabaseConfig holds the engine's PostgreSQL configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"askdb"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"askdb_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`

	// Enabled controls whether the engine persists learning records to
	// Postgres. When false the in-memory store is used.
	Enabled bool `yaml:"enabled" env:"ENGINE_DB_ENABLED" env-default:"false"`
}

// URL builds a connection URL for pgx and migrate.
func (d *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// PoolConfig holds tenant connection pool settings.
type PoolConfig struct {
	MaxConnsPerTenant     int32 `yaml:"max_conns_per_tenant" env:"POOL_MAX_CONNS_PER_TENANT" env-default:"3"`
	AcquireTimeoutSeconds int   `yaml:"acquire_timeout_seconds" env:"POOL_ACQUIRE_TIMEOUT_SECONDS" env-default:"2"`
	IdleTTLMinutes        int   `yaml:"idle_ttl_minutes" env:"POOL_IDLE_TTL_MINUTES" env-default:"5"`
}

// RateLimitConfig holds rate limiter settings.
type RateLimitConfig struct {
	WindowSeconds   int `yaml:"window_seconds" env:"RATE_LIMIT_WINDOW_SECONDS" env-default:"60"`
	PerPairLimit    int `yaml:"per_pair_limit" env:"RATE_LIMIT_PER_PAIR" env-default:"30"`
	TenantPerSecond int `yaml:"tenant_per_second" env:"RATE_LIMIT_TENANT_PER_SECOND" env-default:"5"`
	TenantBurst     int `yaml:"tenant_burst" env:"RATE_LIMIT_TENANT_BURST" env-default:"10"`
}

// Window returns the fixed window as a duration.
func (r *RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// LLMConfig selects and configures the SQL generation model.
type LLMConfig struct {
	// Provider is "openai" for any OpenAI-compatible endpoint or
	// "anthropic" for the Anthropic Messages API.
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model    string `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	APIKey   string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
}

// Load reads config.yaml with environment overrides. A missing config file
// is not an error; defaults and environment variables apply.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.Pool.MaxConnsPerTenant <= 0 {
		return fmt.Errorf("pool max conns per tenant must be positive")
	}
	return nil
}

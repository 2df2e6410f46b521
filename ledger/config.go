package ledger

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the configuration for the rewards ledger application.
type Config struct {
	HTTPAddr string `toml:"http_addr"`
	// RepoBackend selects the storage backend: "pg" or "mem". The memory
	// backend is for tests and local development only.
	RepoBackend string `toml:"repo_backend"`
	// DSN is the Postgres connection string, required for the pg backend.
	DSN string `toml:"dsn"`
	// TokenSecret signs the API's bearer tokens.
	TokenSecret string `toml:"token_secret"`
	// ExpiryTZ is an IANA timezone name for points-expiry comparisons.
	ExpiryTZ string `toml:"expiry_tz"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:    "localhost:9090",
		RepoBackend: "pg",
		TokenSecret: "dev-secret",
	}
}

// LoadConfig reads a TOML config file and applies environment overrides on
// top. An empty path returns the defaults plus overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("REPO_BACKEND"); v != "" {
		cfg.RepoBackend = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("TOKEN_SECRET"); v != "" {
		cfg.TokenSecret = v
	}
	if v := os.Getenv("EXPIRY_TZ"); v != "" {
		cfg.ExpiryTZ = v
	}

	return cfg, nil
}

package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/0xNedAlbo/midcurve-services/model"
)

// Config represents the application configuration
type Config struct {
	Service struct {
		Name       string `yaml:"name"`
		HealthPort int    `yaml:"health_port"`
	} `yaml:"service"`

	Explorer struct {
		BaseURL      string `yaml:"base_url"`
		APIKey       string `yaml:"api_key"` // overridden by ETHERSCAN_API_KEY
		MinSpacingMs int    `yaml:"min_spacing_ms"`
		UserAgent    string `yaml:"user_agent"`
	} `yaml:"explorer"`

	Catalog struct {
		BaseURL      string `yaml:"base_url"`
		APIKey       string `yaml:"api_key"`
		MinSpacingMs int    `yaml:"min_spacing_ms"`
	} `yaml:"catalog"`

	RPC struct {
		// Endpoints maps chain id to an archive-capable JSON-RPC URL.
		Endpoints    map[uint64]string `yaml:"endpoints"`
		MinSpacingMs int               `yaml:"min_spacing_ms"`
	} `yaml:"rpc"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Database string `yaml:"database"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"postgres"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Load reads configuration from a YAML file and applies environment
// overrides and defaults. An empty path yields a default configuration
// built from the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Environment overrides
	if v := os.Getenv("ETHERSCAN_API_KEY"); v != "" {
		cfg.Explorer.APIKey = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("HEALTH_PORT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Service.HealthPort = parsed
		}
	}

	// Defaults
	if cfg.Service.Name == "" {
		cfg.Service.Name = "midcurve-services"
	}
	if cfg.Service.HealthPort == 0 {
		cfg.Service.HealthPort = 8088
	}
	if cfg.Explorer.BaseURL == "" {
		cfg.Explorer.BaseURL = "https://api.etherscan.io/v2/api"
	}
	if cfg.Explorer.MinSpacingMs == 0 {
		cfg.Explorer.MinSpacingMs = 220
	}
	if cfg.Explorer.UserAgent == "" {
		cfg.Explorer.UserAgent = "midcurve-services/1.0"
	}
	if cfg.Catalog.BaseURL == "" {
		cfg.Catalog.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if cfg.Catalog.MinSpacingMs == 0 {
		cfg.Catalog.MinSpacingMs = 2200
	}
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.Database == "" {
		cfg.Postgres.Database = "midcurve"
	}
	if cfg.Postgres.User == "" {
		cfg.Postgres.User = "postgres"
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	return &cfg, nil
}

// Validate checks the parts of the configuration that have no usable
// fallback.
func (c *Config) Validate() error {
	if c.Explorer.APIKey == "" {
		return fmt.Errorf("explorer api key missing: set ETHERSCAN_API_KEY")
	}
	return nil
}

// PostgresConnString returns a connection string for PostgreSQL.
func (c *Config) PostgresConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Database,
		c.Postgres.SSLMode,
	)
}

// Chain returns the chain configuration for a chain id, or false when the
// chain is not part of the supported set.
func (c *Config) Chain(chainID uint64) (model.Chain, bool) {
	ch, ok := DefaultChains[chainID]
	return ch, ok
}

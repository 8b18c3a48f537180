// Package config defines all configuration for the exchange.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// overrides via PREDIX_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the HTTP/WebSocket API server.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds the relational store connection. Only the DSN is
// sensitive; it can be supplied via PREDIX_DATABASE_DSN instead of the file.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// EngineConfig tunes the matching engine.
//
//   - LockTimeout: how long a single queue-lock acquisition may block.
//   - LockRetries: bounded retries after a lock timeout before the
//     operation surfaces as transient.
//   - RetryBackoff: sleep between lock retries.
//   - OperatorUserID: the market operator account that funds resolution
//     payouts and seeds initial event inventory.
type EngineConfig struct {
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
	LockRetries    int           `mapstructure:"lock_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	OperatorUserID int64         `mapstructure:"operator_user_id"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PREDIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("engine.lock_timeout", 2*time.Second)
	v.SetDefault("engine.lock_retries", 3)
	v.SetDefault("engine.retry_backoff", 50*time.Millisecond)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if dsn := os.Getenv("PREDIX_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required (set PREDIX_DATABASE_DSN)")
	}
	if c.Database.Driver != "postgres" {
		return fmt.Errorf("database.driver must be postgres, got %q", c.Database.Driver)
	}
	if c.Engine.LockTimeout <= 0 {
		return fmt.Errorf("engine.lock_timeout must be > 0")
	}
	if c.Engine.LockRetries < 0 {
		return fmt.Errorf("engine.lock_retries must be >= 0")
	}
	if c.Engine.OperatorUserID == 0 {
		return fmt.Errorf("engine.operator_user_id is required")
	}
	return nil
}

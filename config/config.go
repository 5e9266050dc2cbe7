/*
Package config loads runtime configuration and bootstraps logging.

SOURCES (later wins):
  1. Built-in defaults (below)
  2. config.yaml in the working directory, or the file passed to Load
  3. Environment variables prefixed COVERAGE_, with "." replaced by "_"
     (COVERAGE_STORE_DRIVER=postgres, COVERAGE_SERVER_PORT=9090)

STORE DRIVERS:
  sqlite    file database at store.sqlite_path (":memory:" allowed)
  postgres  store.database_url, pool capped at store.max_conns
  memory    process-local, lost on exit; for demos

SEE ALSO:
  - cmd/server/main.go: --config flag
*/
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the full runtime configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Coverage    CoverageConfig    `yaml:"coverage" mapstructure:"coverage"`
	Idempotency IdempotencyConfig `yaml:"idempotency" mapstructure:"idempotency"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// Bulk provisioning is rate limited per process.
	BulkRatePerSec float64 `yaml:"bulk_rate_per_sec" mapstructure:"bulk_rate_per_sec"`
	BulkBurst      int     `yaml:"bulk_burst" mapstructure:"bulk_burst"`
}

// StoreConfig selects and configures the repository backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CoverageConfig configures the calculation core.
type CoverageConfig struct {
	CurrencyScale int32 `yaml:"currency_scale" mapstructure:"currency_scale"`
}

// IdempotencyConfig configures bulk provisioning tokens.
type IdempotencyConfig struct {
	ClaimTTL      time.Duration `yaml:"claim_ttl" mapstructure:"claim_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// Load reads configuration. An empty path looks for config.yaml in the
// working directory and tolerates its absence; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("COVERAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("server.bulk_rate_per_sec", 2.0)
	v.SetDefault("server.bulk_burst", 4)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", "coverage.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("coverage.currency_scale", 2)
	v.SetDefault("idempotency.claim_ttl", 15*time.Minute)
	v.SetDefault("idempotency.sweep_interval", 5*time.Minute)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required for the postgres driver")
		}
	default:
		return eris.Errorf("config: unknown store.driver %q (want sqlite, postgres or memory)", c.Store.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return eris.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Server.BulkRatePerSec <= 0 || c.Server.BulkBurst <= 0 {
		return eris.New("config: server.bulk_rate_per_sec and server.bulk_burst must be positive")
	}
	if c.Coverage.CurrencyScale < 0 {
		return eris.Errorf("config: coverage.currency_scale must not be negative, got %d", c.Coverage.CurrencyScale)
	}
	if c.Idempotency.ClaimTTL <= 0 || c.Idempotency.SweepInterval <= 0 {
		return eris.New("config: idempotency.claim_ttl and idempotency.sweep_interval must be positive")
	}
	return nil
}

// InitLogger builds the zap logger described by cfg and installs it as
// the global logger.
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

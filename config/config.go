// Package config loads service configuration from file, environment and
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Store     StoreConfig
	Inventory InventoryConfig
	Audit     AuditConfig
	Log       LogConfig
	Metrics   MetricsConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// HTTPConfig holds HTTP server settings
type HTTPConfig struct {
	Port             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	CORSAllowOrigins []string
}

// StoreConfig selects and configures the persistence backend
type StoreConfig struct {
	Driver        string // memory, sqlite, redis
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// InventoryConfig tunes the sale coordinator
type InventoryConfig struct {
	OperationTimeout time.Duration
	MaxAttempts      int
	RetryBackoff     time.Duration
}

// AuditConfig controls the stock drift audit
type AuditConfig struct {
	Enabled  bool
	Interval time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Store drivers
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Load reads configuration.
// Priority (highest to lowest):
// 1. Environment variables with INVENTORY_ prefix (e.g., INVENTORY_STORE_DRIVER)
// 2. The file at path, or config.yaml in . or ./config when path is empty
// 3. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("INVENTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// PORT is honoured for platforms that inject it.
	_ = v.BindEnv("http.port", "INVENTORY_HTTP_PORT", "PORT")

	// Booleans cannot be defaulted after the fact.
	v.SetDefault("audit.enabled", true)
	v.SetDefault("metrics.enabled", true)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		HTTP: HTTPConfig{
			Port:             v.GetString("http.port"),
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
		Store: StoreConfig{
			Driver:        strings.ToLower(v.GetString("store.driver")),
			SQLitePath:    v.GetString("store.sqlite_path"),
			RedisAddr:     v.GetString("store.redis_addr"),
			RedisPassword: v.GetString("store.redis_password"),
			RedisDB:       v.GetInt("store.redis_db"),
			RedisPrefix:   v.GetString("store.redis_prefix"),
		},
		Inventory: InventoryConfig{
			OperationTimeout: v.GetDuration("inventory.operation_timeout"),
			MaxAttempts:      v.GetInt("inventory.max_attempts"),
			RetryBackoff:     v.GetDuration("inventory.retry_backoff"),
		},
		Audit: AuditConfig{
			Enabled:  v.GetBool("audit.enabled"),
			Interval: v.GetDuration("audit.interval"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Path:    v.GetString("metrics.path"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "inventory-engine"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}

	if cfg.HTTP.Port == "" {
		cfg.HTTP.Port = "3000"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if len(cfg.HTTP.CORSAllowOrigins) == 0 {
		cfg.HTTP.CORSAllowOrigins = []string{"*"}
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverMemory
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "./data/inventory.db"
	}
	if cfg.Store.RedisAddr == "" {
		cfg.Store.RedisAddr = "localhost:6379"
	}
	if cfg.Store.RedisPrefix == "" {
		cfg.Store.RedisPrefix = "inventory:"
	}

	if cfg.Inventory.OperationTimeout == 0 {
		cfg.Inventory.OperationTimeout = 5 * time.Second
	}
	if cfg.Inventory.MaxAttempts == 0 {
		cfg.Inventory.MaxAttempts = 5
	}
	if cfg.Inventory.RetryBackoff == 0 {
		cfg.Inventory.RetryBackoff = 10 * time.Millisecond
	}

	if cfg.Audit.Interval == 0 {
		cfg.Audit.Interval = time.Minute
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite, DriverRedis:
	default:
		return fmt.Errorf("store.driver must be one of memory, sqlite, redis, got %q", c.Store.Driver)
	}

	if c.Inventory.OperationTimeout < 0 {
		return fmt.Errorf("inventory.operation_timeout cannot be negative")
	}
	if c.Inventory.MaxAttempts < 1 {
		return fmt.Errorf("inventory.max_attempts must be positive")
	}
	if c.Inventory.RetryBackoff < 0 {
		return fmt.Errorf("inventory.retry_backoff cannot be negative")
	}
	if c.Audit.Enabled && c.Audit.Interval < 0 {
		return fmt.Errorf("audit.interval cannot be negative")
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}

	if c.IsProduction() {
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("http.cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Store.Driver == DriverMemory {
			return fmt.Errorf("store.driver cannot be memory in production")
		}
	}

	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Addr returns the HTTP listen address
func (c *HTTPConfig) Addr() string {
	return ":" + c.Port
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var configFile string

// Config holds all application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Scan        ScanConfig      `mapstructure:"scan"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CorsOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Debug           bool          `mapstructure:"debug"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Enabled  bool          `mapstructure:"enabled"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ScanConfig holds the scan buffer and trigger settings
type ScanConfig struct {
	StaleTTL          time.Duration `mapstructure:"stale_ttl"`
	CoolingPeriod     time.Duration `mapstructure:"cooling_period"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	RejectPolicy      string        `mapstructure:"reject_policy"`
	PersistBuffer     bool          `mapstructure:"persist_buffer"`
}

// SchedulerConfig holds background job settings
type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// SetConfigFile overrides the config file search
func SetConfigFile(file string) {
	configFile = file
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(path)
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Enable environment variables to override config
	v.SetEnvPrefix("AGGREGATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		// If YAML not found, try ENV file
		v.SetConfigName("app")
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("error reading config file: %w", err)
			}
			// Continue without a file - ENV vars and defaults apply
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate checks values that have a closed set of options
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	switch c.Scan.RejectPolicy {
	case "retain", "clear", "drop_invalid":
	default:
		return fmt.Errorf("unsupported reject policy: %q", c.Scan.RejectPolicy)
	}

	if c.Scan.CoolingPeriod < 0 || c.Scan.StaleTTL < 0 || c.Scan.InactivityTimeout < 0 {
		return fmt.Errorf("scan durations must not be negative")
	}

	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler tick interval must be positive")
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Core settings
	v.SetDefault("environment", "development")

	// Server settings
	v.SetDefault("server.address", "0.0.0.0:8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{"*"})

	// Logging settings
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Database settings
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "aggregation.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.debug", false)

	// Redis settings
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.ttl", "1h")

	// Scan settings
	v.SetDefault("scan.stale_ttl", "300ms")
	v.SetDefault("scan.cooling_period", "500ms")
	v.SetDefault("scan.inactivity_timeout", "0s")
	v.SetDefault("scan.reject_policy", "retain")
	v.SetDefault("scan.persist_buffer", true)

	// Scheduler settings
	v.SetDefault("scheduler.tick_interval", "250ms")
}

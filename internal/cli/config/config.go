package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/conduit-lang/docmap/internal/odm/store/sqldoc"
)

// FileName is the base name of the configuration file, without extension
const FileName = "docmap"

// EnvPrefix prefixes environment overrides, e.g. DOCMAP_STORE_DRIVER
const EnvPrefix = "DOCMAP"

// Store drivers
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQL    = "sql"
	DriverBadger = "badger"
)

// Config represents the docmap configuration
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Log    LogConfig    `mapstructure:"log"`
	Mapper MapperConfig `mapstructure:"mapper"`
}

// StoreConfig selects and configures the document store backend
type StoreConfig struct {
	Driver string       `mapstructure:"driver"`
	Redis  RedisConfig  `mapstructure:"redis"`
	SQL    SQLConfig    `mapstructure:"sql"`
	Badger BadgerConfig `mapstructure:"badger"`
}

// RedisConfig represents redis store configuration
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	Prefix     string `mapstructure:"prefix"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// SQLConfig represents sql store configuration
type SQLConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// BadgerConfig represents badger store configuration
type BadgerConfig struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MapperConfig represents mapper tuning
type MapperConfig struct {
	LazyConcurrency int `mapstructure:"lazy_concurrency"`
}

// Load loads the configuration. An explicit path must exist; without one docmap.yaml is
// searched in the working directory and its parents, and a missing file means defaults.
// DOCMAP_* environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "docmap:")
	v.SetDefault("store.redis.max_retries", 10)
	v.SetDefault("store.sql.driver", "sqlite3")
	v.SetDefault("store.sql.dsn", "file:docmap.db")
	v.SetDefault("store.badger.path", "data/badger")
	v.SetDefault("store.badger.in_memory", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("mapper.lazy_concurrency", 4)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if root, err := FindRoot(); err == nil {
			v.AddConfigPath(root)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// FindRoot walks up from the working directory to the first directory holding a
// docmap.yaml or docmap.yml
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		for _, ext := range []string{".yaml", ".yml"} {
			if _, err := os.Stat(filepath.Join(dir, FileName+ext)); err == nil {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s.yaml found", FileName)
		}
		dir = parent
	}
}

// NewLogger builds the zap logger described by the log section
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("invalid log.level %q: %w", c.Level, err)
	}

	var zc zap.Config
	if c.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	switch cfg.Store.Driver {
	case DriverMemory:
	case DriverRedis:
		if cfg.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis driver")
		}
	case DriverSQL:
		if _, err := sqldoc.DialectFor(cfg.Store.SQL.Driver); err != nil {
			return fmt.Errorf("store.sql.driver: %w", err)
		}
		if cfg.Store.SQL.DSN == "" {
			return fmt.Errorf("store.sql.dsn is required for the sql driver")
		}
	case DriverBadger:
		if cfg.Store.Badger.Path == "" && !cfg.Store.Badger.InMemory {
			return fmt.Errorf("store.badger.path is required unless store.badger.in_memory is set")
		}
	default:
		return fmt.Errorf("store.driver must be one of memory, redis, sql, badger, got: %s", cfg.Store.Driver)
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return fmt.Errorf("log.level is invalid, got: %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "console" && cfg.Log.Format != "json" {
		return fmt.Errorf("log.format must be console or json, got: %s", cfg.Log.Format)
	}
	if cfg.Mapper.LazyConcurrency < 1 {
		return fmt.Errorf("mapper.lazy_concurrency must be at least 1, got: %d", cfg.Mapper.LazyConcurrency)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultFileName is the configuration file looked up when no path is given
const DefaultFileName = "mapping.yaml"

// EnvPrefix prefixes environment variables overriding configuration keys
const EnvPrefix = "MAPPING"

// Config represents the mapping manager configuration
type Config struct {
	PerContextOverrides  bool               `mapstructure:"per_context_overrides"`
	InheritanceCacheSize int                `mapstructure:"inheritance_cache_size"`
	Log                  LogConfig          `mapstructure:"log"`
	Connections          []ConnectionConfig `mapstructure:"connections"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ConnectionConfig describes one database connection the mapping may be used with
type ConnectionConfig struct {
	Alias   string `mapstructure:"alias"`
	DSN     string `mapstructure:"dsn"`
	User    string `mapstructure:"user"`
	Default bool   `mapstructure:"default"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("per_context_overrides", false)
	v.SetDefault("inheritance_cache_size", 1024)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Default returns the configuration used when no file is present
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// unmarshalling defaults alone cannot fail
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load loads the configuration from path, or from mapping.yaml in the
// current directory when path is empty. A missing default file is not an
// error. MAPPING_* environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFileName, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
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

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.InheritanceCacheSize <= 0 {
		return fmt.Errorf("inheritance_cache_size must be positive, got: %d", cfg.InheritanceCacheSize)
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level is invalid: %w", err)
	}

	aliases := make(map[string]bool, len(cfg.Connections))
	for i, conn := range cfg.Connections {
		if conn.Alias == "" {
			return fmt.Errorf("connections[%d].alias is required", i)
		}
		key := conn.Alias + "\x00" + conn.User
		if aliases[key] {
			return fmt.Errorf("connections[%d]: duplicate connection %s/%s", i, conn.Alias, conn.User)
		}
		aliases[key] = true
	}
	return nil
}

// NewLogger builds the logger described by cfg, falling back to a no-op
// logger if it cannot be constructed.
func NewLogger(cfg LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	Backend           string `mapstructure:"backend"`
	DataDir           string `mapstructure:"data_dir"`
	DSN               string `mapstructure:"dsn"`
	RedisURL          string `mapstructure:"redis_url"`
	S3Bucket          string `mapstructure:"s3_bucket"`
	EnforceUniqueness bool   `mapstructure:"enforce_uniqueness"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Backends lists the accepted storage.backend values.
var Backends = []string{"memory", "badger", "sqlite", "redis", "s3"}

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pollstore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pollstore")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("POLLSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.dsn", "./data/polls.db")
	v.SetDefault("storage.redis_url", "redis://localhost:6379/0")
	v.SetDefault("storage.s3_bucket", "")
	v.SetDefault("storage.enforce_uniqueness", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks config and normalises the backend name and data dir.
// Callers that change a loaded Config must validate it again.
func Validate(config *Config) error {
	config.Storage.Backend = strings.ToLower(strings.TrimSpace(config.Storage.Backend))

	switch config.Storage.Backend {
	case "memory", "redis":
	case "badger":
		if config.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for the badger backend")
		}
		config.Storage.DataDir = filepath.Clean(config.Storage.DataDir)
	case "sqlite":
		if config.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the sqlite backend")
		}
	case "s3":
		if config.Storage.S3Bucket == "" {
			return fmt.Errorf("storage.s3_bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of %s, got %q",
			strings.Join(Backends, ", "), config.Storage.Backend)
	}

	switch config.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", config.Logging.Format)
	}

	return nil
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tradesys/regime/internal/regime"
)

var validate = validator.New()

// Config is the top-level configuration document. It is read once at
// startup and on explicit reload; nothing re-reads it mid-operation.
type Config struct {
	Detector regime.FactoryConfig `yaml:"detector"`
	Cache    CacheConfig          `yaml:"cache"`
	Server   ServerConfig         `yaml:"server"`
	Logging  LoggingConfig        `yaml:"logging"`
}

// CacheConfig controls the Redis-backed prediction cache.
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr" default:"localhost:6379"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds" default:"60" validate:"gte=1"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// ServerConfig controls the HTTP serving layer.
type ServerConfig struct {
	Listen              string  `yaml:"listen" default:"127.0.0.1:8090"`
	ReadTimeoutSeconds  int     `yaml:"read_timeout_seconds" default:"10" validate:"gte=1"`
	WriteTimeoutSeconds int     `yaml:"write_timeout_seconds" default:"10" validate:"gte=1"`
	RateLimit           float64 `yaml:"rate_limit" default:"50" validate:"gt=0"`
	RateBurst           int     `yaml:"rate_burst" default:"100" validate:"gte=1"`
}

func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads, defaults, and validates a configuration document.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", regime.ErrConfiguration, path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", regime.ErrConfiguration, path, err)
	}
	if err := finish(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every field at its default value.
func Default() (*Config, error) {
	var cfg Config
	if err := finish(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func finish(cfg *Config) error {
	if err := defaults.Set(cfg); err != nil {
		return fmt.Errorf("%w: applying defaults: %v", regime.ErrConfiguration, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", regime.ErrConfiguration, err)
	}
	return nil
}

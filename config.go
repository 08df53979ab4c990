package gopagecache

import (
	"errors"
	"fmt"
	"io"
	"log"

	"gopkg.in/yaml.v3"
)

// Logger is the logging sink used by caches and views. *log.Logger
// satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

// Discard drops every message.
var Discard Logger = log.New(io.Discard, "", 0)

// Config holds cache-wide settings. The zero value is not usable; start from
// DefaultConfig or LoadConfig.
type Config struct {
	// DefaultPageSize used when a request or view does not set one.
	DefaultPageSize int `yaml:"defaultPageSize"`
	// MaxPageSize upper bound applied to requested page sizes. 0 disables the
	// bound.
	MaxPageSize int `yaml:"maxPageSize"`
	// RefreshConcurrency maximum number of loads a refresh runs at once.
	// 0 means unbounded.
	RefreshConcurrency int `yaml:"refreshConcurrency"`

	logger Logger
}

// DefaultConfig returns a config with package defaults logging to
// log.Default().
func DefaultConfig() *Config {
	return &Config{
		DefaultPageSize: DefaultPageSize,
		MaxPageSize:     MaxPageSize,
		logger:          log.Default(),
	}
}

// LoadConfig reads a YAML document on top of DefaultConfig. Unknown fields
// are rejected.
//
// Example:
//
//	defaultPageSize: 25
//	maxPageSize: 200
//	refreshConcurrency: 4
func LoadConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WithLogger sets the logger. A nil logger disables logging.
func (c *Config) WithLogger(logger Logger) *Config {
	if c == nil {
		c = DefaultConfig()
	}

	if logger == nil {
		logger = Discard
	}
	c.logger = logger

	return c
}

// WithDefaultPageSize sets the page size used when none is requested.
func (c *Config) WithDefaultPageSize(pageSize int) *Config {
	if c == nil {
		c = DefaultConfig()
	}

	c.DefaultPageSize = pageSize

	return c
}

// WithMaxPageSize sets the page size upper bound. 0 disables the bound.
func (c *Config) WithMaxPageSize(pageSize int) *Config {
	if c == nil {
		c = DefaultConfig()
	}

	c.MaxPageSize = pageSize

	return c
}

// WithRefreshConcurrency bounds the number of loads run by a refresh.
func (c *Config) WithRefreshConcurrency(n int) *Config {
	if c == nil {
		c = DefaultConfig()
	}

	c.RefreshConcurrency = n

	return c
}

// Logger returns the configured logger, never nil.
func (c *Config) Logger() Logger {
	if c == nil || c.logger == nil {
		return log.Default()
	}

	return c.logger
}

// NormalizePageSize applies the configured default and bound.
func (c *Config) NormalizePageSize(pageSize int) int {
	ret, _ := IsNormalizedPageSizeMax(pageSize, c.DefaultPageSize, c.MaxPageSize)
	return ret
}

func (c *Config) validate() error {
	if c.DefaultPageSize <= 0 {
		return fmt.Errorf("defaultPageSize must be positive, got %d", c.DefaultPageSize)
	}

	if c.MaxPageSize < 0 {
		return fmt.Errorf("maxPageSize must not be negative, got %d", c.MaxPageSize)
	}

	if c.MaxPageSize > 0 && c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("defaultPageSize %d exceeds maxPageSize %d", c.DefaultPageSize, c.MaxPageSize)
	}

	if c.RefreshConcurrency < 0 {
		return fmt.Errorf("refreshConcurrency must not be negative, got %d", c.RefreshConcurrency)
	}

	return nil
}

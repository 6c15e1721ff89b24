// Package config loads the driver configuration from defaults, an optional
// YAML file and SOL003_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"github.com/thc1006/nephoran-sol003-driver/internal/api"
	"github.com/thc1006/nephoran-sol003-driver/internal/authclient"
	"github.com/thc1006/nephoran-sol003-driver/internal/bus"
	"github.com/thc1006/nephoran-sol003-driver/internal/grant"
	"github.com/thc1006/nephoran-sol003-driver/internal/packages"
	"github.com/thc1006/nephoran-sol003-driver/internal/reconcile"
	"github.com/thc1006/nephoran-sol003-driver/pkg/logging"
)

// EnvPrefix prefixes every environment override, e.g. SOL003_API_ADDRESS.
const EnvPrefix = "SOL003"

const (
	BusTypeMemory = "memory"
	BusTypeRedis  = "redis"
)

// Config holds all configuration for the driver.
type Config struct {
	API       api.Config       `yaml:"api" envconfig:"API"`
	Bus       BusConfig        `yaml:"bus" envconfig:"BUS"`
	Client    ClientConfig     `yaml:"client" envconfig:"CLIENT"`
	Reconcile reconcile.Config `yaml:"reconcile" envconfig:"RECONCILE"`
	Templates TemplatesConfig  `yaml:"templates" envconfig:"TEMPLATES"`
	Logging   logging.Config   `yaml:"logging" envconfig:"LOGGING"`

	// Grant is optional; the grant routes are only served when its URL is set.
	Grant grant.Config `yaml:"grant" envconfig:"GRANT"`
	// Packages is optional; the package routes are only served when its URL
	// is set.
	Packages PackagesConfig `yaml:"packages" envconfig:"PACKAGES"`
}

// BusConfig selects the message bus.
type BusConfig struct {
	Type  string          `yaml:"type" envconfig:"TYPE"`
	Redis bus.RedisConfig `yaml:"redis" envconfig:"REDIS"`
}

// ClientConfig tunes the outbound SOL003 clients.
type ClientConfig struct {
	ConnectTimeout time.Duration `yaml:"connectTimeout" envconfig:"CONNECT_TIMEOUT"`
	ReadTimeout    time.Duration `yaml:"readTimeout" envconfig:"READ_TIMEOUT"`
	// BreakerFailures opens a per-client circuit breaker after that many
	// consecutive failures. Zero disables the breaker.
	BreakerFailures    uint32        `yaml:"breakerFailures" envconfig:"BREAKER_FAILURES"`
	BreakerOpenTimeout time.Duration `yaml:"breakerOpenTimeout" envconfig:"BREAKER_OPEN_TIMEOUT"`
}

// PackagesConfig describes the package repository and its info cache.
type PackagesConfig struct {
	packages.Config `yaml:",inline"`
	// CacheTTL applies to the Redis store only. Zero keeps entries forever.
	CacheTTL time.Duration `yaml:"cacheTTL" envconfig:"CACHE_TTL"`
}

// TemplatesConfig points at a directory whose templates override the
// built-in ones.
type TemplatesConfig struct {
	Dir string `yaml:"dir" envconfig:"DIR"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: api.DefaultConfig(),
		Bus: BusConfig{
			Type:  BusTypeMemory,
			Redis: bus.DefaultRedisConfig(),
		},
		Client: ClientConfig{
			ConnectTimeout:     authclient.DefaultConnectTimeout,
			ReadTimeout:        authclient.DefaultReadTimeout,
			BreakerOpenTimeout: 30 * time.Second,
		},
		Reconcile: reconcile.DefaultConfig(),
		Logging:   logging.DefaultConfig(),
		Grant:     grant.Config{APIRoot: grant.DefaultAPIRoot},
		Packages: PackagesConfig{
			Config: packages.Config{AssetSuffix: packages.DefaultAssetSuffix},
		},
	}
}

// Load builds the configuration from defaults, the file at path when path is
// not empty, then the environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.resolveSecretFiles(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadFromFile overlays the YAML file at path.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv overlays SOL003_* environment variables. Unset variables
// leave the current value in place.
func (c *Config) LoadFromEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("failed to load environment: %w", err)
	}
	return nil
}

// Validate checks that required configuration is present
func (c *Config) Validate() error {
	var errs []string

	if c.API.Address == "" {
		errs = append(errs, "api.address is required")
	}
	if c.API.MaxBodyBytes <= 0 {
		errs = append(errs, "api.maxBodyBytes must be positive")
	}

	switch c.Bus.Type {
	case BusTypeMemory:
	case BusTypeRedis:
		if c.Bus.Redis.Address == "" {
			errs = append(errs, "bus.redis.address is required for the redis bus")
		}
	default:
		errs = append(errs, fmt.Sprintf("bus.type must be %s or %s, got %q", BusTypeMemory, BusTypeRedis, c.Bus.Type))
	}

	if c.Client.BreakerFailures > 0 && c.Client.BreakerOpenTimeout <= 0 {
		errs = append(errs, "client.breakerOpenTimeout must be positive when the breaker is enabled")
	}
	if err := c.Reconcile.Validate(); err != nil {
		errs = append(errs, "reconcile: "+err.Error())
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, "logging: "+err.Error())
	}
	if c.PackagesEnabled() {
		if err := c.Packages.Config.Validate(); err != nil {
			errs = append(errs, "packages: "+err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// GrantEnabled reports whether a grant provider is configured.
func (c *Config) GrantEnabled() bool {
	return c.Grant.URL != ""
}

// PackagesEnabled reports whether a package repository is configured.
func (c *Config) PackagesEnabled() bool {
	return c.Packages.URL != ""
}

// ClientOptions returns the authclient options for outbound clients.
func (c *Config) ClientOptions(log logr.Logger) authclient.Options {
	opts := authclient.DefaultOptions()
	opts.ConnectTimeout = c.Client.ConnectTimeout
	opts.ReadTimeout = c.Client.ReadTimeout
	opts.Logger = log
	if c.Client.BreakerFailures > 0 {
		opts.CircuitBreaker = &authclient.BreakerSettings{
			ConsecutiveFailures: c.Client.BreakerFailures,
			OpenTimeout:         c.Client.BreakerOpenTimeout,
		}
	}
	return opts
}

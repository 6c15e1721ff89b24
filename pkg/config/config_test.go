package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BusTypeMemory, cfg.Bus.Type)
	assert.Equal(t, ":8296", cfg.API.Address)
	assert.Equal(t, "sol003_lcm_op_occ_polling_requests", cfg.Reconcile.PollingTopic)
	assert.False(t, cfg.GrantEnabled())
	assert.False(t, cfg.PackagesEnabled())
}

func TestLoadFromFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
api:
  address: ":9000"
bus:
  type: redis
  redis:
    address: redis:6379
    keyPrefix: "lm:"
reconcile:
  initialBackoff: 5s
  maxAttempts: 10
client:
  breakerFailures: 3
grant:
  url: http://grants.example.com
  properties:
    authenticationType: BASIC
    username: lm
    password: secret
packages:
  url: http://nexus.example.com
  repository: vnf-packages
  cacheTTL: 1h
logging:
  level: debug
  format: console
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.API.Address)
	assert.Equal(t, BusTypeRedis, cfg.Bus.Type)
	assert.Equal(t, "redis:6379", cfg.Bus.Redis.Address)
	assert.Equal(t, "lm:", cfg.Bus.Redis.KeyPrefix)
	assert.Equal(t, 10, cfg.Bus.Redis.PoolSize, "unset fields keep their defaults")
	assert.Equal(t, 5*time.Second, cfg.Reconcile.InitialBackoff)
	assert.Equal(t, 10, cfg.Reconcile.MaxAttempts)
	assert.True(t, cfg.GrantEnabled())
	assert.Equal(t, "/grant/v1", cfg.Grant.APIRoot)
	assert.Equal(t, "lm", cfg.Grant.Properties["username"])
	assert.True(t, cfg.PackagesEnabled())
	assert.Equal(t, "vnf-packages", cfg.Packages.Repository)
	assert.Equal(t, ".zip", cfg.Packages.AssetSuffix)
	assert.Equal(t, time.Hour, cfg.Packages.CacheTTL)
	assert.Equal(t, "console", cfg.Logging.Format)

	opts := cfg.ClientOptions(logr.Discard())
	require.NotNil(t, opts.CircuitBreaker)
	assert.Equal(t, uint32(3), opts.CircuitBreaker.ConsecutiveFailures)
	assert.Equal(t, 30*time.Second, opts.CircuitBreaker.OpenTimeout)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "config.yaml", "api:\n  adress: \":9000\"\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "api:\n  address: \":9000\"\n")
	t.Setenv("SOL003_API_ADDRESS", ":9100")
	t.Setenv("SOL003_RECONCILE_MAX_ATTEMPTS", "7")
	t.Setenv("SOL003_RECONCILE_DEAD_LETTER_TOPIC", "sol003_dlq")
	t.Setenv("SOL003_PACKAGES_URL", "http://nexus")
	t.Setenv("SOL003_PACKAGES_REPOSITORY", "vnfs")
	t.Setenv("SOL003_GRANT_PROPERTIES", "authenticationType:NONE")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.API.Address)
	assert.Equal(t, 7, cfg.Reconcile.MaxAttempts)
	assert.Equal(t, "sol003_dlq", cfg.Reconcile.DeadLetterTopic)
	assert.Equal(t, "vnfs", cfg.Packages.Repository)
	assert.Equal(t, "NONE", cfg.Grant.Properties["authenticationType"])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.API.Address = "" }},
		{"unknown bus", func(c *Config) { c.Bus.Type = "kafka" }},
		{"redis without address", func(c *Config) { c.Bus.Type = BusTypeRedis; c.Bus.Redis.Address = "" }},
		{"breaker without timeout", func(c *Config) { c.Client.BreakerFailures = 2; c.Client.BreakerOpenTimeout = 0 }},
		{"bad backoff", func(c *Config) { c.Reconcile.BackoffFactor = 0.5 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }},
		{"packages without repository", func(c *Config) { c.Packages.URL = "http://nexus" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSecretFiles(t *testing.T) {
	secret := writeFile(t, "password", "s3cret\n")
	cfg := DefaultConfig()
	cfg.Grant.Properties = map[string]string{"username": "lm", "passwordFile": secret}
	cfg.Packages.Properties = map[string]string{"password": "explicit", "passwordFile": secret}

	require.NoError(t, cfg.resolveSecretFiles())
	assert.Equal(t, map[string]string{"username": "lm", "password": "s3cret"}, cfg.Grant.Properties)
	assert.Equal(t, map[string]string{"password": "explicit"}, cfg.Packages.Properties)

	cfg.Grant.Properties = map[string]string{"passwordFile": filepath.Join(t.TempDir(), "absent")}
	assert.Error(t, cfg.resolveSecretFiles())
}

func TestRedisPasswordFile(t *testing.T) {
	t.Setenv("SOL003_BUS_REDIS_PASSWORD_FILE", writeFile(t, "redis", "pw"))
	cfg := DefaultConfig()
	require.NoError(t, cfg.resolveSecretFiles())
	assert.Equal(t, "pw", cfg.Bus.Redis.Password)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "toml", cfg.Tenants.Backend)
	assert.Equal(t, 0.82, cfg.Resolver.FuzzyThreshold)
	assert.Equal(t, "rudder", cfg.Logging.SyslogTag)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		errText string
	}{
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Tenants.Backend = "yaml" },
			errText: "unknown tenants.backend",
		},
		{
			name: "toml backend without path",
			mutate: func(c *Config) {
				c.Tenants.Backend = "toml"
				c.Tenants.Path = ""
			},
			errText: "tenants.path is required",
		},
		{
			name: "postgres backend without host",
			mutate: func(c *Config) {
				c.Tenants.Backend = "postgres"
				c.Database.Host = ""
			},
			errText: "database.host and database.name",
		},
		{
			name:    "fuzzy threshold zero",
			mutate:  func(c *Config) { c.Resolver.FuzzyThreshold = 0 },
			errText: "resolver.fuzzy_threshold",
		},
		{
			name:    "fuzzy threshold above one",
			mutate:  func(c *Config) { c.Resolver.FuzzyThreshold = 1.5 },
			errText: "resolver.fuzzy_threshold",
		},
		{
			name:    "bad cache ttl",
			mutate:  func(c *Config) { c.Resolver.CacheTTL = "soon" },
			errText: "resolver.cache_ttl",
		},
		{
			name:    "non-positive classifier concurrency",
			mutate:  func(c *Config) { c.Classifier.MaxConcurrent = 0 },
			errText: "classifier.max_concurrent",
		},
		{
			name:    "bad classifier timeout",
			mutate:  func(c *Config) { c.Classifier.Timeout = "fast" },
			errText: "classifier.timeout",
		},
		{
			name:    "bad message deadline",
			mutate:  func(c *Config) { c.Pipeline.MessageDeadline = "whenever" },
			errText: "pipeline.message_deadline",
		},
		{
			name:    "bad refresh interval",
			mutate:  func(c *Config) { c.Tenants.RefreshInterval = "often" },
			errText: "tenants.refresh_interval",
		},
		{
			name: "http api enabled without api key",
			mutate: func(c *Config) {
				c.Servers.HTTPAPI.Start = true
				c.Servers.HTTPAPI.APIKey = ""
			},
			errText: "api_key is required",
		},
		{
			name: "http api tls without cert",
			mutate: func(c *Config) {
				c.Servers.HTTPAPI.Start = true
				c.Servers.HTTPAPI.APIKey = "secret"
				c.Servers.HTTPAPI.TLS = true
			},
			errText: "tls_cert_file and tls_key_file",
		},
		{
			name:    "lmtp enabled without addr",
			mutate:  func(c *Config) { c.Servers.LMTP.Addr = "" },
			errText: "servers.lmtp.addr",
		},
		{
			name:    "bad lmtp message size",
			mutate:  func(c *Config) { c.Servers.LMTP.MaxMessageSize = "huge" },
			errText: "max_message_size",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			errText: "logging.level",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errText)
		})
	}
}

func TestDurationAccessorDefaults(t *testing.T) {
	cfg := NewDefaultConfig()

	timeout, err := cfg.Database.GetQueryTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timeout)

	cfg.Database.QueryTimeout = ""
	timeout, err = cfg.Database.GetQueryTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timeout)

	lifetime, err := cfg.Database.GetMaxConnLifetime()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, lifetime)

	cfg.Tenants.RefreshInterval = ""
	interval, err := cfg.Tenants.GetRefreshInterval()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), interval)

	cfg.Classifier.Timeout = ""
	ctimeout, err := cfg.Classifier.GetTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, ctimeout)

	cfg.Servers.LMTP.MaxMessageSize = ""
	size, err := cfg.Servers.LMTP.GetMaxMessageSize()
	require.NoError(t, err)
	assert.Equal(t, int64(50*1024*1024), size)
}

func TestConnString(t *testing.T) {
	d := DatabaseConfig{
		Host:     "dbhost",
		User:     "app",
		Password: "pw",
		Name:     "rudder_db",
	}
	assert.Equal(t, "postgres://app:pw@dbhost:5432/rudder_db?sslmode=disable", d.ConnString())

	d.Port = "6432"
	d.TLSMode = true
	assert.Equal(t, "postgres://app:pw@dbhost:6432/rudder_db?sslmode=require", d.ConnString())
}

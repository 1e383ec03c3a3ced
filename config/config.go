package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mailflow/rudder/helpers"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output     string `toml:"output"`      // "stdout", "stderr", "syslog" or a file path
	Format     string `toml:"format"`      // "console" or "json"
	Level      string `toml:"level"`       // "debug", "info", "warn", "error"
	SyslogTag  string `toml:"syslog_tag"`  // Tag used for syslog output
	SyslogAddr string `toml:"syslog_addr"` // Optional remote syslog address
}

// DatabaseConfig holds the Postgres connection settings for the tenant store.
type DatabaseConfig struct {
	Host            string `toml:"host"`
	Port            string `toml:"port"`
	User            string `toml:"user"`
	Password        string `toml:"password"`
	Name            string `toml:"name"`
	TLSMode         bool   `toml:"tls"`
	MaxConns        int    `toml:"max_conns"`
	MinConns        int    `toml:"min_conns"`
	MaxConnLifetime string `toml:"max_conn_lifetime"`
	QueryTimeout    string `toml:"query_timeout"` // Timeout for individual queries (e.g. "30s")
	LogQueries      bool   `toml:"log_queries"`
}

// GetQueryTimeout parses the query timeout duration
func (d *DatabaseConfig) GetQueryTimeout() (time.Duration, error) {
	if d.QueryTimeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(d.QueryTimeout)
}

// GetMaxConnLifetime parses the max connection lifetime duration
func (d *DatabaseConfig) GetMaxConnLifetime() (time.Duration, error) {
	if d.MaxConnLifetime == "" {
		return time.Hour, nil
	}
	return helpers.ParseDuration(d.MaxConnLifetime)
}

// ConnString builds the Postgres connection string for the configured store.
func (d *DatabaseConfig) ConnString() string {
	sslMode := "disable"
	if d.TLSMode {
		sslMode = "require"
	}
	port := d.Port
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, port, d.Name, sslMode)
}

// TenantsConfig selects where tenant configurations are loaded from.
// The registry only requires a deterministic snapshot; whether it comes
// from a TOML file or Postgres is decided here.
type TenantsConfig struct {
	Backend         string `toml:"backend"`          // "toml" or "postgres"
	Path            string `toml:"path"`             // Tenant file path for the toml backend
	RefreshInterval string `toml:"refresh_interval"` // Periodic background reload ("0" disables)
}

// GetRefreshInterval parses the background refresh interval
func (t *TenantsConfig) GetRefreshInterval() (time.Duration, error) {
	if t.RefreshInterval == "" {
		return 0, nil
	}
	return helpers.ParseDuration(t.RefreshInterval)
}

// ResolverConfig tunes domain matching.
type ResolverConfig struct {
	// Minimum similarity score a fuzzy match must exceed to be accepted.
	// The exact value is a calibrated heuristic, not a probability.
	FuzzyThreshold float64 `toml:"fuzzy_threshold"`
	CacheTTL       string  `toml:"cache_ttl"`      // TTL for cached fuzzy match results
	CacheMaxSize   int     `toml:"cache_max_size"` // Maximum cached domains
}

// GetCacheTTL parses the fuzzy match cache TTL
func (r *ResolverConfig) GetCacheTTL() (time.Duration, error) {
	if r.CacheTTL == "" {
		return 10 * time.Minute, nil
	}
	return helpers.ParseDuration(r.CacheTTL)
}

// ClassifierConfig configures the AI classification collaborator and
// its degradation behavior.
type ClassifierConfig struct {
	APIKey        string `toml:"api_key"`
	BaseURL       string `toml:"base_url"` // Optional OpenAI-compatible endpoint
	Model         string `toml:"model"`
	Timeout       string `toml:"timeout"`        // Per-call deadline
	MaxConcurrent int64  `toml:"max_concurrent"` // Global in-flight AI call cap
	MaxRetries    int    `toml:"max_retries"`    // Transient error retries within the deadline
}

// GetTimeout parses the per-call AI timeout
func (c *ClassifierConfig) GetTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 5 * time.Second, nil
	}
	return helpers.ParseDuration(c.Timeout)
}

// PipelineConfig bounds per-message processing.
type PipelineConfig struct {
	MessageDeadline string `toml:"message_deadline"` // Overall per-message deadline
}

// GetMessageDeadline parses the per-message deadline
func (p *PipelineConfig) GetMessageDeadline() (time.Duration, error) {
	if p.MessageDeadline == "" {
		return 10 * time.Second, nil
	}
	return helpers.ParseDuration(p.MessageDeadline)
}

// LMTPConfig holds the LMTP ingestion server settings.
type LMTPConfig struct {
	Start          bool   `toml:"start"`
	Addr           string `toml:"addr"`
	MaxMessageSize string `toml:"max_message_size"` // e.g. "50mb"
	TLS            bool   `toml:"tls"`
	TLSCertFile    string `toml:"tls_cert_file"`
	TLSKeyFile     string `toml:"tls_key_file"`
}

// GetMaxMessageSize parses the human readable message size limit in bytes
func (l *LMTPConfig) GetMaxMessageSize() (int64, error) {
	if l.MaxMessageSize == "" {
		return 50 * 1024 * 1024, nil
	}
	return helpers.ParseSize(l.MaxMessageSize)
}

// HTTPAPIConfig holds the operator HTTP API settings.
type HTTPAPIConfig struct {
	Start        bool     `toml:"start"`
	Addr         string   `toml:"addr"`
	APIKey       string   `toml:"api_key"`
	AllowedHosts []string `toml:"allowed_hosts"`
	TLS          bool     `toml:"tls"`
	TLSCertFile  string   `toml:"tls_cert_file"`
	TLSKeyFile   string   `toml:"tls_key_file"`
}

// ServersConfig groups the network listeners.
type ServersConfig struct {
	Debug   bool          `toml:"debug"`
	LMTP    LMTPConfig    `toml:"lmtp"`
	HTTPAPI HTTPAPIConfig `toml:"http_api"`
}

// Config is the root daemon configuration loaded from config.toml.
type Config struct {
	Logging    LoggingConfig    `toml:"logging"`
	Database   DatabaseConfig   `toml:"database"`
	Tenants    TenantsConfig    `toml:"tenants"`
	Resolver   ResolverConfig   `toml:"resolver"`
	Classifier ClassifierConfig `toml:"classifier"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Servers    ServersConfig    `toml:"servers"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output:    "stderr",
			Format:    "console",
			Level:     "info",
			SyslogTag: "rudder",
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         "5432",
			User:         "postgres",
			Name:         "rudder_db",
			MaxConns:     20,
			MinConns:     2,
			QueryTimeout: "30s",
		},
		Tenants: TenantsConfig{
			Backend: "toml",
			Path:    "tenants.toml",
		},
		Resolver: ResolverConfig{
			FuzzyThreshold: 0.82,
			CacheTTL:       "10m",
			CacheMaxSize:   10000,
		},
		Classifier: ClassifierConfig{
			Model:         "gpt-4o-mini",
			Timeout:       "5s",
			MaxConcurrent: 8,
			MaxRetries:    2,
		},
		Pipeline: PipelineConfig{
			MessageDeadline: "10s",
		},
		Servers: ServersConfig{
			LMTP: LMTPConfig{
				Start: true,
				Addr:  ":24",
			},
			HTTPAPI: HTTPAPIConfig{
				Start: false,
				Addr:  ":8080",
			},
		},
	}
}

// Validate checks the configuration for values that would make the daemon
// misbehave at runtime. It is called once at startup, after flag overrides.
func (c *Config) Validate() error {
	switch c.Tenants.Backend {
	case "toml":
		if c.Tenants.Path == "" {
			return fmt.Errorf("tenants.path is required for the toml backend")
		}
	case "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			return fmt.Errorf("database.host and database.name are required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown tenants.backend %q (expected \"toml\" or \"postgres\")", c.Tenants.Backend)
	}

	if c.Resolver.FuzzyThreshold <= 0 || c.Resolver.FuzzyThreshold > 1 {
		return fmt.Errorf("resolver.fuzzy_threshold must be in (0, 1], got %v", c.Resolver.FuzzyThreshold)
	}
	if _, err := c.Resolver.GetCacheTTL(); err != nil {
		return fmt.Errorf("invalid resolver.cache_ttl: %w", err)
	}

	if c.Classifier.MaxConcurrent <= 0 {
		return fmt.Errorf("classifier.max_concurrent must be positive")
	}
	if _, err := c.Classifier.GetTimeout(); err != nil {
		return fmt.Errorf("invalid classifier.timeout: %w", err)
	}
	if _, err := c.Pipeline.GetMessageDeadline(); err != nil {
		return fmt.Errorf("invalid pipeline.message_deadline: %w", err)
	}
	if _, err := c.Tenants.GetRefreshInterval(); err != nil {
		return fmt.Errorf("invalid tenants.refresh_interval: %w", err)
	}

	if c.Servers.HTTPAPI.Start {
		if c.Servers.HTTPAPI.APIKey == "" {
			return fmt.Errorf("servers.http_api.api_key is required when the HTTP API is enabled")
		}
		if c.Servers.HTTPAPI.TLS && (c.Servers.HTTPAPI.TLSCertFile == "" || c.Servers.HTTPAPI.TLSKeyFile == "") {
			return fmt.Errorf("servers.http_api TLS requires tls_cert_file and tls_key_file")
		}
	}
	if c.Servers.LMTP.Start {
		if c.Servers.LMTP.Addr == "" {
			return fmt.Errorf("servers.lmtp.addr is required when the LMTP listener is enabled")
		}
		if _, err := c.Servers.LMTP.GetMaxMessageSize(); err != nil {
			return fmt.Errorf("invalid servers.lmtp.max_message_size: %w", err)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}

	return nil
}

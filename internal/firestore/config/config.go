// Package config loads the gateway, store and fixture settings from the
// environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	resource "firestore-driver/internal/shared/firestore"

	"github.com/caarlos0/env/v6"
)

// StoreConfig selects and configures the privileged store
type StoreConfig struct {
	// Backend is "memory" or "mongodb"
	Backend         string        `env:"STORE_BACKEND" envDefault:"memory" json:"backend"`
	MongoDBURI      string        `env:"MONGODB_URI" json:"-"`
	MongoDBDatabase string        `env:"MONGODB_DATABASE" envDefault:"firestore_driver" json:"mongodb_database"`
	ConnectTimeout  time.Duration `env:"MONGODB_CONNECT_TIMEOUT" envDefault:"10s" json:"connect_timeout"`
}

// RedisConfig configures the Redis stream change feed. An empty Addr keeps
// the in-process feed.
type RedisConfig struct {
	Addr            string        `env:"REDIS_ADDR" json:"addr"`
	Password        string        `env:"REDIS_PASSWORD" json:"-"`
	Database        int           `env:"REDIS_DB" envDefault:"0" json:"database"`
	MaxRetries      int           `env:"REDIS_MAX_RETRIES" envDefault:"3" json:"max_retries"`
	PoolSize        int           `env:"REDIS_POOL_SIZE" envDefault:"10" json:"pool_size"`
	MinIdleConns    int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2" json:"min_idle_conns"`
	EnableTLS       bool          `env:"REDIS_TLS" envDefault:"false" json:"enable_tls"`
	ConnMaxIdleTime time.Duration `env:"REDIS_CONN_MAX_IDLE_TIME" envDefault:"30m" json:"conn_max_idle_time"`
	ConnMaxLifetime time.Duration `env:"REDIS_CONN_MAX_LIFETIME" envDefault:"1h" json:"conn_max_lifetime"`
	StreamPrefix    string        `env:"REDIS_STREAM_PREFIX" envDefault:"changes:" json:"stream_prefix"`
	StreamMaxLength int64         `env:"REDIS_STREAM_MAX_LENGTH" envDefault:"10000" json:"stream_max_length"`
}

// Enabled reports whether a Redis feed is configured
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// Host returns the host part of Addr, used as the TLS server name
func (c RedisConfig) Host() string {
	host, _, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return c.Addr
	}
	return host
}

// GatewayConfig configures the rule-enforcing REST gateway and the client
// driver that talks to it
type GatewayConfig struct {
	Addr       string `env:"GATEWAY_ADDR" envDefault:":8080" json:"addr"`
	URL        string `env:"GATEWAY_URL" envDefault:"http://127.0.0.1:8080" json:"url"`
	ProjectID  string `env:"PROJECT_ID" envDefault:"demo-project" json:"project_id"`
	DatabaseID string `env:"DATABASE_ID" envDefault:"(default)" json:"database_id"`
	// RulesFile is a YAML rule set. Without one every signed-in caller may
	// read and write.
	RulesFile      string        `env:"RULES_FILE" json:"rules_file"`
	TransactionTTL time.Duration `env:"TRANSACTION_TTL" envDefault:"1m" json:"transaction_ttl"`
	AllowOrigins   string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*" json:"allow_origins"`
	// FeedRetention bounds the in-process change log kept for resume tokens
	FeedRetention   int           `env:"FEED_RETENTION" envDefault:"1024" json:"feed_retention"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s" json:"shutdown_timeout"`
}

// FixtureConfig configures mock collection namespaces
type FixtureConfig struct {
	Prefix string `env:"FIXTURE_PREFIX" envDefault:"items" json:"prefix"`
	// RunID tags every collection of one test run. Empty means a fresh id
	// per process.
	RunID           string        `env:"FIXTURE_RUN_ID" json:"run_id"`
	TeardownTimeout time.Duration `env:"FIXTURE_TEARDOWN_TIMEOUT" envDefault:"30s" json:"teardown_timeout"`
}

// Config holds all configuration for the Firestore module
type Config struct {
	Store   StoreConfig   `json:"store"`
	Redis   RedisConfig   `json:"redis"`
	Gateway GatewayConfig `json:"gateway"`
	Fixture FixtureConfig `json:"fixture"`
}

// LoadConfig loads configuration from environment variables and applies defaults
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	for name, target := range map[string]interface{}{
		"store":   &cfg.Store,
		"redis":   &cfg.Redis,
		"gateway": &cfg.Gateway,
		"fixture": &cfg.Fixture,
	} {
		if err := env.Parse(target); err != nil {
			return nil, fmt.Errorf("failed to load %s configuration from environment: %w", name, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns the configuration of a hermetic in-memory setup
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{Backend: "memory", MongoDBDatabase: "firestore_driver", ConnectTimeout: 10 * time.Second},
		Gateway: GatewayConfig{
			Addr:            ":8080",
			URL:             "http://127.0.0.1:8080",
			ProjectID:       "demo-project",
			DatabaseID:      resource.DefaultDatabaseID,
			TransactionTTL:  time.Minute,
			AllowOrigins:    "*",
			FeedRetention:   1024,
			ShutdownTimeout: 10 * time.Second,
		},
		Fixture: FixtureConfig{Prefix: "items", TeardownTimeout: 30 * time.Second},
	}
}

// Validate checks values env tags cannot express
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "mongodb":
		if c.Store.MongoDBURI == "" {
			return errors.New("MONGODB_URI is required for the mongodb store backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if !resource.IsValidID(c.Gateway.ProjectID) {
		return fmt.Errorf("invalid project ID %q", c.Gateway.ProjectID)
	}
	if c.Gateway.DatabaseID == "" {
		return errors.New("database ID is required")
	}
	if c.Gateway.TransactionTTL <= 0 {
		return errors.New("transaction TTL must be positive")
	}
	if c.Fixture.Prefix == "" {
		return errors.New("fixture prefix is required")
	}
	return nil
}

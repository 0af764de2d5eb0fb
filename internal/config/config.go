package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerCfg struct {
	Listen         string `yaml:"listen"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
}

type AuthCfg struct {
	// Disabled is an operational escape hatch: every request passes the
	// gate regardless of session state. Not a security feature.
	Disabled bool `yaml:"disabled"`
}

type UpstreamsCfg struct {
	API                 string `yaml:"api"`
	UI                  string `yaml:"ui"`
	TimeoutMs           int    `yaml:"timeout_ms"`
	MaxIdleConns        int    `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int    `yaml:"max_idle_conns_per_host"`
}

type LimitsCfg struct {
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

type SessionCfg struct {
	Secret          string `yaml:"secret"`
	CookieName      string `yaml:"cookie_name"`
	TTLSec          int    `yaml:"ttl_sec"`
	IdleEvictionSec int    `yaml:"idle_eviction_sec"`
	Store           string `yaml:"store"` // memory | mongo
	CookieSecure    bool   `yaml:"cookie_secure"`
}

type MongoCfg struct {
	URL              string `yaml:"url"`
	Database         string `yaml:"database"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
}

type MetricsCfg struct {
	Listen string `yaml:"listen"` // "" disables the metrics listener
}

type LoggingCfg struct {
	Level string `yaml:"level"` // info|debug
}

type Config struct {
	Server    ServerCfg    `yaml:"server"`
	Auth      AuthCfg      `yaml:"auth"`
	Upstreams UpstreamsCfg `yaml:"upstreams"`
	Limits    LimitsCfg    `yaml:"limits"`
	Session   SessionCfg   `yaml:"session"`
	Mongo     MongoCfg     `yaml:"mongo"`
	Metrics   MetricsCfg   `yaml:"metrics"`
	Logging   LoggingCfg   `yaml:"logging"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	// defaults
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8071"
	}
	if cfg.Server.ReadTimeoutMs == 0 {
		cfg.Server.ReadTimeoutMs = 10000
	}
	if cfg.Upstreams.TimeoutMs == 0 {
		cfg.Upstreams.TimeoutMs = 30000
	}
	if cfg.Upstreams.MaxIdleConns == 0 {
		cfg.Upstreams.MaxIdleConns = 100
	}
	if cfg.Upstreams.MaxIdleConnsPerHost == 0 {
		cfg.Upstreams.MaxIdleConnsPerHost = 16
	}
	if cfg.Limits.MaxBodyBytes == 0 {
		cfg.Limits.MaxBodyBytes = 50 << 20
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "authgate_session"
	}
	if cfg.Session.TTLSec == 0 {
		cfg.Session.TTLSec = 86400
	}
	if cfg.Session.IdleEvictionSec == 0 {
		cfg.Session.IdleEvictionSec = 600
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = "memory"
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "authgate"
	}
	if cfg.Mongo.ConnectTimeoutMs == 0 {
		cfg.Mongo.ConnectTimeoutMs = 10000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return &cfg, nil
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLSec) * time.Second
}

func (c *Config) IdleEviction() time.Duration {
	return time.Duration(c.Session.IdleEvictionSec) * time.Second
}

func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstreams.TimeoutMs) * time.Millisecond
}

func (c *Config) MongoConnectTimeout() time.Duration {
	return time.Duration(c.Mongo.ConnectTimeoutMs) * time.Millisecond
}

func (c *Config) Validate() error {
	if c.Upstreams.API == "" {
		return errors.New("upstreams.api is required")
	}
	if c.Upstreams.UI == "" {
		return errors.New("upstreams.ui is required")
	}
	for _, raw := range []string{c.Upstreams.API, c.Upstreams.UI} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid upstream URL %q: %w", raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("upstream URL %q must be http or https", raw)
		}
	}
	if len(c.Session.Secret) < 32 {
		return errors.New("session.secret must be at least 32 bytes")
	}
	switch c.Session.Store {
	case "memory", "mongo":
	default:
		return errors.New("session.store must be 'memory' or 'mongo'")
	}
	// The credential store always needs Mongo; the process must not come
	// up without it.
	if c.Mongo.URL == "" {
		return errors.New("mongo.url is required")
	}
	if c.Limits.MaxBodyBytes < 0 {
		return errors.New("limits.max_body_bytes must be >= 0")
	}
	if c.Session.TTLSec <= 0 || c.Session.IdleEvictionSec <= 0 {
		return errors.New("session.ttl_sec and session.idle_eviction_sec must be positive")
	}
	return nil
}

// Package config loads server configuration from a YAML file with ${ENV}
// expansion, then applies command-line overrides.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/and161185/portal-keeper/internal/sessioncache"
)

// Session cache backends.
const (
	CacheNone  = "none"
	CacheFile  = "file"
	CacheMinio = "minio"
)

// Config is the complete server configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	Vault        VaultConfig        `yaml:"vault"`
	Limiter      LimiterConfig      `yaml:"limiter"`
	Connector    ConnectorConfig    `yaml:"connector"`
	SessionCache SessionCacheConfig `yaml:"session_cache"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"-"`
	WriteTimeout    time.Duration `yaml:"-"`
	ShutdownTimeout time.Duration `yaml:"-"`

	ReadTimeoutRaw     string `yaml:"read_timeout"`
	WriteTimeoutRaw    string `yaml:"write_timeout"`
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the PostgreSQL connection string.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// AuthConfig holds API token settings.
type AuthConfig struct {
	JWTKey   string        `yaml:"jwt_key"`
	TokenTTL time.Duration `yaml:"-"`

	TokenTTLRaw string `yaml:"token_ttl"`
}

// VaultConfig holds key-derivation settings. Zero selects the built-in cost.
type VaultConfig struct {
	KDFIterations int `yaml:"kdf_iterations"`
}

// LimiterConfig throttles failed unlock attempts.
type LimiterConfig struct {
	MaxFails int           `yaml:"max_fails"`
	Window   time.Duration `yaml:"-"`
	BlockFor time.Duration `yaml:"-"`

	WindowRaw   string `yaml:"window"`
	BlockForRaw string `yaml:"block_for"`
}

// ConnectorConfig bounds browser connector waits.
type ConnectorConfig struct {
	NavTimeout    time.Duration `yaml:"-"`
	SubmitTimeout time.Duration `yaml:"-"`
	MaxItems      int           `yaml:"max_items"`
	UserAgent     string        `yaml:"user_agent"`

	NavTimeoutRaw    string `yaml:"nav_timeout"`
	SubmitTimeoutRaw string `yaml:"submit_timeout"`
}

// SessionCacheConfig selects where portal sessions are kept between syncs.
type SessionCacheConfig struct {
	Backend string                   `yaml:"backend"`
	Dir     string                   `yaml:"dir"`
	MaxAge  time.Duration            `yaml:"-"`
	Minio   sessioncache.MinioConfig `yaml:"minio"`

	MaxAgeRaw string `yaml:"max_age"`
}

// SchedulerConfig controls scheduled syncs.
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"-"`

	IntervalRaw string `yaml:"interval"`
}

// LoggingConfig holds the zap level name.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:               ":8080",
			ReadTimeoutRaw:     "15s",
			WriteTimeoutRaw:    "5m",
			ShutdownTimeoutRaw: "10s",
		},
		Auth:    AuthConfig{TokenTTLRaw: "12h"},
		Limiter: LimiterConfig{MaxFails: 5, WindowRaw: "15m", BlockForRaw: "15m"},
		Connector: ConnectorConfig{
			MaxItems:         10,
			NavTimeoutRaw:    "30s",
			SubmitTimeoutRaw: "30s",
		},
		SessionCache: SessionCacheConfig{Backend: CacheFile, Dir: "./data/sessions", MaxAgeRaw: "0s"},
		Scheduler:    SchedulerConfig{Enabled: true, IntervalRaw: "1m"},
		Logging:      LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults. ${VAR} references are expanded from the
// environment before parsing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func (c *Config) finish() error {
	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// Parse builds the configuration from command-line args: -config names the
// YAML file, and -addr, -dsn and -jwt-key override it.
func Parse(name string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", "", "path to YAML config")
	addr := fs.String("addr", "", "listen address (overrides server.addr)")
	dsn := fs.String("dsn", "", "PostgreSQL DSN (overrides database.dsn)")
	jwtKey := fs.String("jwt-key", "", "HS256 signing key (overrides auth.jwt_key)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if *path != "" {
		if err := cfg.loadFile(*path); err != nil {
			return nil, err
		}
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}
	if *jwtKey != "" {
		cfg.Auth.JWTKey = *jwtKey
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or "" when unset.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envRef.FindStringSubmatch(match)[1])
	})
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Auth.JWTKey == "" {
		return errors.New("auth.jwt_key is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	if c.Vault.KDFIterations < 0 {
		return errors.New("vault.kdf_iterations must not be negative")
	}
	if c.Limiter.MaxFails <= 0 || c.Limiter.Window <= 0 || c.Limiter.BlockFor <= 0 {
		return errors.New("limiter.max_fails, window and block_for must be positive")
	}
	if c.Connector.NavTimeout <= 0 || c.Connector.SubmitTimeout <= 0 {
		return errors.New("connector timeouts must be positive")
	}
	if c.Connector.MaxItems <= 0 {
		return errors.New("connector.max_items must be positive")
	}
	switch c.SessionCache.Backend {
	case CacheNone:
	case CacheFile:
		if c.SessionCache.Dir == "" {
			return errors.New("session_cache.dir is required for the file backend")
		}
	case CacheMinio:
		if c.SessionCache.Minio.Endpoint == "" || c.SessionCache.Minio.Bucket == "" {
			return errors.New("session_cache.minio.endpoint and bucket are required for the minio backend")
		}
	default:
		return fmt.Errorf("session_cache.backend %q is not one of none, file, minio", c.SessionCache.Backend)
	}
	if c.SessionCache.MaxAge < 0 {
		return errors.New("session_cache.max_age must not be negative")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return errors.New("scheduler.interval must be positive when enabled")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(c *Config) error {
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.read_timeout", c.Server.ReadTimeoutRaw, &c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeoutRaw, &c.Server.WriteTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeoutRaw, &c.Server.ShutdownTimeout},
		{"auth.token_ttl", c.Auth.TokenTTLRaw, &c.Auth.TokenTTL},
		{"limiter.window", c.Limiter.WindowRaw, &c.Limiter.Window},
		{"limiter.block_for", c.Limiter.BlockForRaw, &c.Limiter.BlockFor},
		{"connector.nav_timeout", c.Connector.NavTimeoutRaw, &c.Connector.NavTimeout},
		{"connector.submit_timeout", c.Connector.SubmitTimeoutRaw, &c.Connector.SubmitTimeout},
		{"session_cache.max_age", c.SessionCache.MaxAgeRaw, &c.SessionCache.MaxAge},
		{"scheduler.interval", c.Scheduler.IntervalRaw, &c.Scheduler.Interval},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = v
	}
	return nil
}

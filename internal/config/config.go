// Package config loads the runtime configuration of the sync binaries from
// environment variables, optionally layered over a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	// MinLedgerRetention is the shortest allowed idempotency window.
	MinLedgerRetention = 24 * time.Hour

	minSecretLen = 32
)

type Config struct {
	Env        string
	LogLevel   string
	ListenAddr string

	Storage struct {
		Driver           string
		DSN              string
		MaxConns         int32
		MinConns         int32
		StatementTimeout time.Duration
		// AutoMigrate applies pending migrations when the server starts.
		AutoMigrate bool
	}

	Auth struct {
		JWTSecret string
		Issuer    string
		TokenTTL  time.Duration
	}

	Sync struct {
		MaxOperations   int
		MaxBodyBytes    int64
		LedgerRetention time.Duration
		PruneInterval   time.Duration
	}
}

// IsDevelopment reports whether the binaries run in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// fileConfig mirrors Config in the YAML overlay. Durations are strings
// parsed with time.ParseDuration.
type fileConfig struct {
	Env        string `yaml:"env"`
	LogLevel   string `yaml:"log_level"`
	ListenAddr string `yaml:"listen_addr"`
	Storage    struct {
		Driver           string `yaml:"driver"`
		DSN              string `yaml:"dsn"`
		MaxConns         int32  `yaml:"max_conns"`
		MinConns         int32  `yaml:"min_conns"`
		StatementTimeout string `yaml:"statement_timeout"`
		AutoMigrate      *bool  `yaml:"auto_migrate"`
	} `yaml:"storage"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		Issuer    string `yaml:"issuer"`
		TokenTTL  string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Sync struct {
		MaxOperations   int    `yaml:"max_operations"`
		MaxBodyBytes    int64  `yaml:"max_body_bytes"`
		LedgerRetention string `yaml:"ledger_retention"`
		PruneInterval   string `yaml:"prune_interval"`
	} `yaml:"sync"`
}

func defaults() *Config {
	cfg := &Config{
		Env:        "development",
		LogLevel:   "info",
		ListenAddr: ":8080",
	}
	cfg.Storage.Driver = DriverPostgres
	cfg.Storage.MaxConns = 25
	cfg.Storage.MinConns = 2
	cfg.Storage.StatementTimeout = 30 * time.Second
	cfg.Auth.Issuer = "rollcall"
	cfg.Auth.TokenTTL = 24 * time.Hour
	cfg.Sync.MaxOperations = 1000
	cfg.Sync.MaxBodyBytes = 32 << 20
	cfg.Sync.LedgerRetention = 30 * 24 * time.Hour
	cfg.Sync.PruneInterval = time.Hour
	return cfg
}

// Load builds the configuration: defaults, then the file named by
// SYNC_CONFIG_FILE if set, then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("SYNC_CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.overlayEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Env, f.Env)
	setString(&c.LogLevel, f.LogLevel)
	setString(&c.ListenAddr, f.ListenAddr)
	setString(&c.Storage.Driver, f.Storage.Driver)
	setString(&c.Storage.DSN, f.Storage.DSN)
	if f.Storage.MaxConns > 0 {
		c.Storage.MaxConns = f.Storage.MaxConns
	}
	if f.Storage.MinConns > 0 {
		c.Storage.MinConns = f.Storage.MinConns
	}
	if f.Storage.AutoMigrate != nil {
		c.Storage.AutoMigrate = *f.Storage.AutoMigrate
	}
	setString(&c.Auth.JWTSecret, f.Auth.JWTSecret)
	setString(&c.Auth.Issuer, f.Auth.Issuer)
	if f.Sync.MaxOperations > 0 {
		c.Sync.MaxOperations = f.Sync.MaxOperations
	}
	if f.Sync.MaxBodyBytes > 0 {
		c.Sync.MaxBodyBytes = f.Sync.MaxBodyBytes
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"storage.statement_timeout", f.Storage.StatementTimeout, &c.Storage.StatementTimeout},
		{"auth.token_ttl", f.Auth.TokenTTL, &c.Auth.TokenTTL},
		{"sync.ledger_retention", f.Sync.LedgerRetention, &c.Sync.LedgerRetention},
		{"sync.prune_interval", f.Sync.PruneInterval, &c.Sync.PruneInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config file %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) overlayEnv() error {
	c.Env = getenvDefault("SYNC_ENV", c.Env)
	c.LogLevel = getenvDefault("SYNC_LOG_LEVEL", c.LogLevel)
	c.ListenAddr = getenvDefault("SYNC_LISTEN_ADDR", c.ListenAddr)
	c.Storage.Driver = strings.ToLower(getenvDefault("SYNC_STORAGE_DRIVER", c.Storage.Driver))
	c.Storage.DSN = getenvDefault("SYNC_DATABASE_URL", c.Storage.DSN)
	c.Storage.AutoMigrate = getenvBool("SYNC_AUTO_MIGRATE", c.Storage.AutoMigrate)
	c.Auth.JWTSecret = getenvDefault("SYNC_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Issuer = getenvDefault("SYNC_JWT_ISSUER", c.Auth.Issuer)

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	maxConns, err := getenvInt("SYNC_DB_MAX_CONNS", int(c.Storage.MaxConns))
	collect(err)
	c.Storage.MaxConns = int32(maxConns)
	minConns, err := getenvInt("SYNC_DB_MIN_CONNS", int(c.Storage.MinConns))
	collect(err)
	c.Storage.MinConns = int32(minConns)

	c.Sync.MaxOperations, err = getenvInt("SYNC_MAX_OPERATIONS", c.Sync.MaxOperations)
	collect(err)
	maxBody, err := getenvInt("SYNC_MAX_BODY_BYTES", int(c.Sync.MaxBodyBytes))
	collect(err)
	c.Sync.MaxBodyBytes = int64(maxBody)

	c.Storage.StatementTimeout, err = getenvDuration("SYNC_STATEMENT_TIMEOUT", c.Storage.StatementTimeout)
	collect(err)
	c.Auth.TokenTTL, err = getenvDuration("SYNC_TOKEN_TTL", c.Auth.TokenTTL)
	collect(err)
	c.Sync.LedgerRetention, err = getenvDuration("SYNC_LEDGER_RETENTION", c.Sync.LedgerRetention)
	collect(err)
	c.Sync.PruneInterval, err = getenvDuration("SYNC_PRUNE_INTERVAL", c.Sync.PruneInterval)
	collect(err)

	return errors.Join(errs...)
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return errors.New("SYNC_DATABASE_URL is required for the postgres storage driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q (want %s or %s)", c.Storage.Driver, DriverPostgres, DriverMemory)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("SYNC_JWT_SECRET is required")
	}
	if len(c.Auth.JWTSecret) < minSecretLen {
		return fmt.Errorf("SYNC_JWT_SECRET must be at least %d characters long (got %d)", minSecretLen, len(c.Auth.JWTSecret))
	}
	if c.Sync.LedgerRetention < MinLedgerRetention {
		return fmt.Errorf("ledger retention %s is below the minimum of %s", c.Sync.LedgerRetention, MinLedgerRetention)
	}
	if c.Sync.PruneInterval <= 0 {
		return errors.New("prune interval must be positive")
	}
	if c.Storage.MinConns > c.Storage.MaxConns {
		return fmt.Errorf("min conns %d exceeds max conns %d", c.Storage.MinConns, c.Storage.MaxConns)
	}
	if c.Sync.MaxOperations < 0 || c.Sync.MaxBodyBytes <= 0 {
		return errors.New("sync limits must be positive")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

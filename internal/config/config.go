// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads gatekeeper configuration from defaults, a YAML file,
// the environment and command-line flags, in that order of precedence.
package config

import (
	"net"
	"slices"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/gate"
)

// Storage backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	// StoreNone keeps sessions on the user record (single-session mode).
	StoreNone = "none"
)

// Log formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config is the full gatekeeper configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Auth    AuthConfig    `koanf:"auth"`
	Storage StorageConfig `koanf:"storage"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string   `koanf:"addr" jsonschema:"description=HTTP listen address"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// CORSOrigins lists origins allowed to call /api/v1. Empty disables CORS headers.
	CORSOrigins []string `koanf:"cors_origins"`
}

// AuthConfig selects the gate strategy and session behaviour.
type AuthConfig struct {
	Mode            string              `koanf:"mode" jsonschema:"description=Gate strategy; empty disables gating"`
	SessionName     string              `koanf:"session_name" jsonschema:"description=Cookie carrying the session token"`
	SessionDuration Duration            `koanf:"session_duration"`
	ExcludedPaths   []string            `koanf:"excluded_paths"`
	CookieSecure    bool                `koanf:"cookie_secure"`
	Argon2          auth.Argon2idParams `koanf:"argon2"`
}

// StorageConfig selects repositories.
type StorageConfig struct {
	Users       string      `koanf:"users" jsonschema:"enum=memory,enum=postgres"`
	Sessions    string      `koanf:"sessions" jsonschema:"enum=none,enum=memory,enum=postgres,enum=redis"`
	DatabaseURL string      `koanf:"database_url"`
	AutoMigrate bool        `koanf:"auto_migrate"`
	Redis       RedisConfig `koanf:"redis"`
}

// RedisConfig configures the redis session store.
type RedisConfig struct {
	Addr     string   `koanf:"addr"`
	Password string   `koanf:"password"`
	DB       int      `koanf:"db"`
	Prefix   string   `koanf:"prefix"`
	KeyTTL   Duration `koanf:"key_ttl"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string   `koanf:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string   `koanf:"format" jsonschema:"enum=json,enum=text"`
	Redact []string `koanf:"redact" jsonschema:"description=Attribute keys whose values are masked"`
}

// MetricsConfig configures the observability server. An empty address disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// DefaultRedactedFields are masked in logs unless overridden.
func DefaultRedactedFields() []string {
	return []string{"email", "password", "token", "phone", "ssn", "name"}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "0.0.0.0:5000",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Auth: AuthConfig{
			SessionName:   gate.DefaultSessionCookie,
			ExcludedPaths: gate.DefaultExcludedPaths(),
			Argon2:        auth.DefaultArgon2idParams(),
		},
		Storage: StorageConfig{
			Users:    StoreMemory,
			Sessions: StoreNone,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "gatekeeper:",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: FormatJSON,
			Redact: DefaultRedactedFields(),
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
	}
}

// GateMode returns the parsed auth mode.
func (c *Config) GateMode() (gate.Mode, error) {
	return gate.ParseMode(c.Auth.Mode)
}

// PersistedSessions reports whether sessions are stored apart from users.
func (c *Config) PersistedSessions() bool {
	return c.Storage.Sessions != StoreNone && c.Storage.Sessions != ""
}

// NeedsDatabase reports whether any repository is postgres-backed.
func (c *Config) NeedsDatabase() bool {
	return c.Storage.Users == StorePostgres || c.Storage.Sessions == StorePostgres
}

// Validate checks cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	mode, err := c.GateMode()
	if err != nil {
		return err
	}
	if err := validateAddr("server.addr", c.Server.Addr); err != nil {
		return err
	}
	if c.Metrics.Addr != "" {
		if err := validateAddr("metrics.addr", c.Metrics.Addr); err != nil {
			return err
		}
	}
	if c.Server.ShutdownTimeout < 0 {
		return invalid("server.shutdown_timeout", "must not be negative")
	}
	if strings.TrimSpace(c.Auth.SessionName) == "" {
		return invalid("auth.session_name", "is required")
	}
	if err := c.Auth.Argon2.Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").With("field", "auth.argon2").Wrap(err)
	}

	if !slices.Contains([]string{StoreMemory, StorePostgres}, c.Storage.Users) {
		return invalid("storage.users", "must be memory or postgres")
	}
	if !slices.Contains([]string{"", StoreNone, StoreMemory, StorePostgres, StoreRedis}, c.Storage.Sessions) {
		return invalid("storage.sessions", "must be none, memory, postgres or redis")
	}
	if c.Storage.Sessions == StorePostgres && c.Storage.Users != StorePostgres {
		return invalid("storage.sessions", "postgres sessions require postgres users")
	}
	if c.NeedsDatabase() && c.Storage.DatabaseURL == "" {
		return invalid("storage.database_url", "is required for postgres storage")
	}
	if c.Storage.Sessions == StoreRedis && c.Storage.Redis.Addr == "" {
		return invalid("storage.redis.addr", "is required for redis sessions")
	}
	if mode == gate.ModePersistedSession && !c.PersistedSessions() {
		return invalid("auth.mode", "session_db_auth requires storage.sessions other than none")
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		return invalid("log.level", "must be debug, info, warn or error")
	}
	if c.Log.Format != FormatJSON && c.Log.Format != FormatText {
		return invalid("log.format", "must be json or text")
	}
	return nil
}

func validateAddr(field, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return oops.Code("CONFIG_INVALID").With("field", field).With("value", addr).Wrap(err)
	}
	return nil
}

func invalid(field, msg string) error {
	return oops.Code("CONFIG_INVALID").With("field", field).Errorf("%s %s", field, msg)
}

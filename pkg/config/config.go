// Package config provides unified configuration for the portcullis gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Optional separate seed baseline file (seed.file)
//  4. Environment variable overrides (PORTCULLIS_ prefix)
//  5. File reference resolution (_file suffix fields)
//  6. Validation
package config

import (
	"time"

	"github.com/portcullis-auth/portcullis/pkg/seed"
)

// Config holds all configuration for the portcullis gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Session       SessionConfig       `yaml:"session"`
	Seed          SeedConfig          `yaml:"seed"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 10s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 10s
}

// IdentityConfig holds identity store settings.
type IdentityConfig struct {
	Type     string         `yaml:"type"` // "memory", "redis" or "postgres", default: "memory"
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Lockout  LockoutConfig  `yaml:"lockout"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr         string `yaml:"addr"` // default: "localhost:6379"
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"` // _file variant for password
	DB           int    `yaml:"db"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: true
}

// LockoutConfig holds failed sign-in lockout settings.
type LockoutConfig struct {
	MaxFailures int           `yaml:"max_failures"` // default: 5
	Duration    time.Duration `yaml:"duration"`     // default: 10m
}

// SessionConfig holds session cookie settings.
type SessionConfig struct {
	CookieName string        `yaml:"cookie_name"` // default: "portcullis_session"
	Secret     string        `yaml:"secret"`      // required
	SecretFile string        `yaml:"secret_file"` // _file variant for secret
	TTL        time.Duration `yaml:"ttl"`         // default: 12h
	Secure     bool          `yaml:"secure"`      // default: true
}

// SeedConfig holds the baseline the reconciler converges on. File points
// at a separate YAML document with the same shape; when set, its content
// replaces the inline baseline.
type SeedConfig struct {
	seed.Baseline `yaml:",inline"`

	File string `yaml:"file"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Identity: IdentityConfig{
			Type: "memory",
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
			Postgres: PostgresConfig{
				MaxConns:       25,
				MigrateOnStart: true,
			},
			Lockout: LockoutConfig{
				MaxFailures: 5,
				Duration:    10 * time.Minute,
			},
		},
		Session: SessionConfig{
			CookieName: "portcullis_session",
			TTL:        12 * time.Hour,
			Secure:     true,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

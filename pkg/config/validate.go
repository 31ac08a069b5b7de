package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	switch c.Identity.Type {
	case "memory":
	case "redis":
		if c.Identity.Redis.Addr == "" {
			errs = append(errs, errors.New("identity.redis.addr is required for type=redis"))
		}
	case "postgres":
		if c.Identity.Postgres.DSN == "" && c.Identity.Postgres.DSNFile == "" {
			errs = append(errs, errors.New("identity.postgres.dsn is required for type=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("identity.type %q is not one of memory, redis, postgres", c.Identity.Type))
	}

	if c.Identity.Lockout.MaxFailures < 1 {
		errs = append(errs, fmt.Errorf("identity.lockout.max_failures %d must be positive", c.Identity.Lockout.MaxFailures))
	}
	if c.Identity.Lockout.Duration <= 0 {
		errs = append(errs, errors.New("identity.lockout.duration must be positive"))
	}

	if c.Session.Secret == "" {
		errs = append(errs, errors.New("session.secret is required"))
	} else if len(c.Session.Secret) < 32 {
		errs = append(errs, errors.New("session.secret must be at least 32 bytes"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}

	return errors.Join(errs...)
}

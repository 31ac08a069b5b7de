package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoad_DefaultsWithSecret(t *testing.T) {
	t.Setenv("PORTCULLIS_SESSION_SECRET", testSecret)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Identity.Type != "memory" {
		t.Errorf("Identity.Type = %q, want memory", cfg.Identity.Type)
	}
	if cfg.Session.TTL != 12*time.Hour {
		t.Errorf("Session.TTL = %v, want 12h", cfg.Session.TTL)
	}
	if cfg.Seed.Enabled {
		t.Error("seeding must be disabled by default")
	}
	if !cfg.Observability.Metrics.Enabled {
		t.Error("metrics must be enabled by default")
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
server:
  port: 9090
identity:
  type: redis
  redis:
    addr: redis.internal:6379
session:
  secret: `+testSecret+`
  secure: false
seed:
  enabled: true
  roles: [admin]
  users:
    - name: root
      password: x
      roles: [admin]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Identity.Type != "redis" || cfg.Identity.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Identity = %+v, want redis at redis.internal:6379", cfg.Identity)
	}
	if !cfg.Seed.Enabled || len(cfg.Seed.Roles) != 1 || cfg.Seed.Roles[0] != "admin" {
		t.Errorf("Seed = %+v, want enabled with role admin", cfg.Seed)
	}
	if len(cfg.Seed.Users) != 1 || cfg.Seed.Users[0].Name != "root" {
		t.Errorf("Seed.Users = %+v, want one user root", cfg.Seed.Users)
	}
}

func TestLoad_SeedFileReplacesInline(t *testing.T) {
	dir := t.TempDir()
	seedPath := writeFile(t, dir, "seeddata.yaml", `
enabled: true
roles: [operator]
users:
  - name: ops
    password: y
    roles: [operator]
`)
	cfgPath := writeFile(t, dir, "config.yaml", `
session:
  secret: `+testSecret+`
seed:
  enabled: false
  roles: [ignored]
  file: `+seedPath+`
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.Seed.Enabled {
		t.Error("seed file should have enabled seeding")
	}
	if len(cfg.Seed.Roles) != 1 || cfg.Seed.Roles[0] != "operator" {
		t.Errorf("Seed.Roles = %v, want [operator]", cfg.Seed.Roles)
	}
}

func TestLoad_MissingSeedFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", `
session:
  secret: `+testSecret+`
seed:
  file: `+filepath.Join(dir, "does-not-exist.yaml")+`
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Seed.Enabled {
		t.Error("absent seed file must leave seeding disabled")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORTCULLIS_SESSION_SECRET", testSecret)
	t.Setenv("PORTCULLIS_PORT", "8443")
	t.Setenv("PORTCULLIS_STORE", "postgres")
	t.Setenv("PORTCULLIS_POSTGRES_DSN", "postgres://auth:pw@db:5432/auth")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8443 {
		t.Errorf("Port = %d, want 8443", cfg.Server.Port)
	}
	if cfg.Identity.Type != "postgres" {
		t.Errorf("Identity.Type = %q, want postgres", cfg.Identity.Type)
	}
	if cfg.Identity.Postgres.DSN == "" {
		t.Error("expected DSN from environment")
	}
}

func TestLoad_SecretFileResolution(t *testing.T) {
	dir := t.TempDir()
	secretPath := writeFile(t, dir, "secret", testSecret+"\n")
	cfgPath := writeFile(t, dir, "config.yaml", `
session:
  secret_file: `+secretPath+`
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.Secret != testSecret {
		t.Errorf("Secret = %q, want trimmed file content", cfg.Session.Secret)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing secret", func(c *Config) { c.Session.Secret = "" }},
		{"short secret", func(c *Config) { c.Session.Secret = "short" }},
		{"bad store type", func(c *Config) { c.Identity.Type = "etcd" }},
		{"postgres without dsn", func(c *Config) { c.Identity.Type = "postgres" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"zero lockout", func(c *Config) { c.Identity.Lockout.MaxFailures = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Session.Secret = testSecret
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

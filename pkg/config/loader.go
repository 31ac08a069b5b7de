package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/portcullis-auth/portcullis/pkg/seed"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, PORTCULLIS_CONFIG env, ./config.yaml,
//     /etc/portcullis/config.yaml)
//  3. Separate seed baseline file, when seed.file is set
//  4. Environment variable overrides
//  5. File reference resolution (_file suffix)
//  6. Validation
func Load(configPath string) (*Config, error) {
	// Start with defaults.
	cfg := Defaults()

	// Discover and load YAML config file.
	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	// Load the seed baseline from its own file when configured.
	// A missing file is not an error: seeding is optional.
	if err := loadSeedFile(&cfg); err != nil {
		return nil, fmt.Errorf("loading seed file: %w", err)
	}

	// Apply environment variable overrides.
	applyEnvOverrides(&cfg)

	// Resolve _file references.
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	// Validate.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. PORTCULLIS_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/portcullis/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	// Explicit path takes priority.
	if configPath != "" {
		return configPath
	}

	// Check PORTCULLIS_CONFIG env var.
	if envPath := os.Getenv("PORTCULLIS_CONFIG"); envPath != "" {
		return envPath
	}

	// Check common locations.
	candidates := []string{
		"config.yaml",
		"/etc/portcullis/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// loadSeedFile replaces the inline baseline with the content of the
// configured seed file. The file is optional; when it does not exist the
// inline baseline (possibly empty) stands.
func loadSeedFile(cfg *Config) error {
	if cfg.Seed.File == "" {
		return nil
	}

	data, err := os.ReadFile(cfg.Seed.File)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var baseline seed.Baseline
	if err := yaml.Unmarshal(data, &baseline); err != nil {
		return fmt.Errorf("parsing %s: %w", cfg.Seed.File, err)
	}
	cfg.Seed.Baseline = baseline
	return nil
}

// applyEnvOverrides maps environment variables to config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORTCULLIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PORTCULLIS_STORE"); v != "" {
		cfg.Identity.Type = v
	}
	if v := os.Getenv("PORTCULLIS_REDIS_ADDR"); v != "" {
		cfg.Identity.Redis.Addr = v
	}
	if v := os.Getenv("PORTCULLIS_REDIS_PASSWORD"); v != "" {
		cfg.Identity.Redis.Password = v
	}
	if v := os.Getenv("PORTCULLIS_POSTGRES_DSN"); v != "" {
		cfg.Identity.Postgres.DSN = v
	}
	if v := os.Getenv("PORTCULLIS_SESSION_SECRET"); v != "" {
		cfg.Session.Secret = v
	}
	if v := os.Getenv("PORTCULLIS_SEED_FILE"); v != "" {
		cfg.Seed.File = v
	}
	if v := os.Getenv("PORTCULLIS_SEED_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Seed.Enabled = enabled
		}
	}
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. For each field ending in _file, if the value field is empty
// and the file field is set, the file is read, whitespace is trimmed, and
// the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// session.secret_file -> session.secret
	if cfg.Session.SecretFile != "" && cfg.Session.Secret == "" {
		val, err := readSecretFile(cfg.Session.SecretFile)
		if err != nil {
			return fmt.Errorf("session.secret_file: %w", err)
		}
		cfg.Session.Secret = val
	}

	// identity.redis.password_file -> identity.redis.password
	if cfg.Identity.Redis.PasswordFile != "" && cfg.Identity.Redis.Password == "" {
		val, err := readSecretFile(cfg.Identity.Redis.PasswordFile)
		if err != nil {
			return fmt.Errorf("identity.redis.password_file: %w", err)
		}
		cfg.Identity.Redis.Password = val
	}

	// identity.postgres.dsn_file -> identity.postgres.dsn
	if cfg.Identity.Postgres.DSNFile != "" && cfg.Identity.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Identity.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("identity.postgres.dsn_file: %w", err)
		}
		cfg.Identity.Postgres.DSN = val
	}

	return nil
}

// readSecretFile reads a secret from a file, trimming surrounding whitespace.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

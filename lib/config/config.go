// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Relic components.
//
// Configuration is loaded from a single file specified by:
//   - RELIC_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections
// (development, staging, production) that override base values when the
// environment matches.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for Relic.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Store configures the artifact store.
	Store StoreConfig `yaml:"store"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Store *StoreConfig `yaml:"store,omitempty"`
	Log   *LogConfig   `yaml:"log,omitempty"`
}

// StoreConfig configures the artifact store.
type StoreConfig struct {
	// Root is the base directory for payload files and the snapshot.
	Root string `yaml:"root"`

	// Compression pins the payload compression algorithm.
	// Values: "auto" (probe per payload), "none", "lz4", "zstd".
	// Default: auto
	Compression string `yaml:"compression"`

	// EncryptionKeyFile is the path to a file holding the 32-byte
	// at-rest master key, hex encoded. Empty disables sealing.
	EncryptionKeyFile string `yaml:"encryption_key_file"`

	// VerifyParents makes adds fail when a document references a
	// parent hash that is not stored. Off by default: pipeline roots
	// legitimately reference sources that were never persisted.
	VerifyParents bool `yaml:"verify_parents"`

	// OnDamage controls how streaming reads handle a payload that no
	// longer loads or decodes.
	// Values: "skip" (log and continue), "fail" (stop on first error)
	// Default: skip (development), fail (production)
	OnDamage string `yaml:"on_damage"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is the minimum level emitted.
	// Values: "debug", "info", "warn", "error"
	// Default: info
	Level string `yaml:"level"`

	// Format selects the slog handler.
	// Values: "text", "json"
	// Default: text (development), json (production)
	Format string `yaml:"format"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "relic")

	return &Config{
		Environment: Development,
		Store: StoreConfig{
			Root:        defaultRoot,
			Compression: "auto",
			OnDamage:    "skip",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the RELIC_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if RELIC_CONFIG is not set, this
// fails. This ensures deterministic, auditable configuration with no
// hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("RELIC_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("RELIC_CONFIG environment variable not set; " +
			"set it to the path of your relic.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values - this ensures deterministic, auditable
// configuration. The only expansion performed is ${HOME} and similar
// path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: fail loudly on damaged payloads,
		// machine-readable logs.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Store: &StoreConfig{OnDamage: "fail"},
				Log:   &LogConfig{Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Store != nil {
		if overrides.Store.Root != "" {
			c.Store.Root = overrides.Store.Root
		}
		if overrides.Store.Compression != "" {
			c.Store.Compression = overrides.Store.Compression
		}
		if overrides.Store.EncryptionKeyFile != "" {
			c.Store.EncryptionKeyFile = overrides.Store.EncryptionKeyFile
		}
		// VerifyParents is a bool, so we always apply it from overrides.
		c.Store.VerifyParents = overrides.Store.VerifyParents
		if overrides.Store.OnDamage != "" {
			c.Store.OnDamage = overrides.Store.OnDamage
		}
	}

	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"RELIC_ROOT": c.Store.Root,
		"HOME":       os.Getenv("HOME"),
	}

	c.Store.Root = expandVars(c.Store.Root, vars)
	vars["RELIC_ROOT"] = c.Store.Root // Update for dependent paths.

	c.Store.EncryptionKeyFile = expandVars(c.Store.EncryptionKeyFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Store.Root == "" {
		errs = append(errs, fmt.Errorf("store.root is required"))
	}

	compressionValues := []string{"auto", "none", "lz4", "zstd"}
	if !contains(compressionValues, c.Store.Compression) {
		errs = append(errs, fmt.Errorf("store.compression must be one of: %v", compressionValues))
	}

	damageValues := []string{"skip", "fail"}
	if !contains(damageValues, c.Store.OnDamage) {
		errs = append(errs, fmt.Errorf("store.on_damage must be one of: %v", damageValues))
	}

	levelValues := []string{"debug", "info", "warn", "error"}
	if !contains(levelValues, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", levelValues))
	}

	formatValues := []string{"text", "json"}
	if !contains(formatValues, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formatValues))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the store root if it doesn't exist.
func (c *Config) EnsurePaths() error {
	if c.Store.Root == "" {
		return nil
	}
	if err := os.MkdirAll(c.Store.Root, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Store.Root, err)
	}
	return nil
}

// EncryptionKey reads and decodes the configured master key file.
// Returns nil with no error when no key file is configured.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.Store.EncryptionKeyFile == "" {
		return nil, nil
	}

	data, err := os.ReadFile(c.Store.EncryptionKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading encryption key file: %w", err)
	}

	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key from %s: %w", c.Store.EncryptionKeyFile, err)
	}
	return key, nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

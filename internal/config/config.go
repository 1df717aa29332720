// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/ebook-catalog/internal/fetch"
	"github.com/jonathan/ebook-catalog/internal/manifest"
	"github.com/jonathan/ebook-catalog/internal/metadata"
)

// Environment variables that override file values.
const (
	EnvManifest     = "CATALOG_MANIFEST"
	EnvProbeTimeout = "CATALOG_PROBE_TIMEOUT"
	EnvParseTimeout = "CATALOG_PARSE_TIMEOUT"
	EnvPort         = "CATALOG_PORT"
	EnvUserAgent    = "CATALOG_USER_AGENT"
)

// DefaultPort is the serve command's default listen port.
const DefaultPort = 8080

// Config represents the CLI configuration that can be loaded from a JSON or YAML file.
// All fields are optional; missing values use defaults or must be provided via CLI flags.
type Config struct {
	Manifest     string   `json:"manifest,omitempty" yaml:"manifest,omitempty"`           // Manifest URL or path
	ProbeTimeout Duration `json:"probe_timeout,omitempty" yaml:"probe_timeout,omitempty"` // Size probe budget per entry
	ParseTimeout Duration `json:"parse_timeout,omitempty" yaml:"parse_timeout,omitempty"` // Page-count budget per entry
	Port         int      `json:"port,omitempty" yaml:"port,omitempty"`                   // HTTP port for serve
	UserAgent    string   `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`       // User-Agent for probes
	Template     string   `json:"template,omitempty" yaml:"template,omitempty"`           // Custom page template
	Verbose      bool     `json:"verbose,omitempty" yaml:"verbose,omitempty"`             // Debug logging
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Manifest:     manifest.DefaultSource,
		ProbeTimeout: Duration(metadata.DefaultProbeTimeout),
		ParseTimeout: Duration(metadata.DefaultParseTimeout),
		Port:         DefaultPort,
		UserAgent:    fetch.DefaultUserAgent,
	}
}

// LoadConfig loads configuration from a JSON or YAML file, chosen by extension.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
// Zero values are allowed since MergeWithDefaults fills them.
func (c *Config) Validate() error {
	if c.ProbeTimeout < 0 {
		return fmt.Errorf("config error: 'probe_timeout' must be positive")
	}
	if c.ParseTimeout < 0 {
		return fmt.Errorf("config error: 'parse_timeout' must be positive")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}

	if c.Template != "" {
		if _, err := os.Stat(c.Template); os.IsNotExist(err) {
			return fmt.Errorf("config error: template file not found: %s", c.Template)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with zero fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.Manifest == "" {
		result.Manifest = defaults.Manifest
	}
	if result.UserAgent == "" {
		result.UserAgent = defaults.UserAgent
	}
	if result.Template == "" {
		result.Template = defaults.Template
	}
	if result.ProbeTimeout == 0 {
		result.ProbeTimeout = defaults.ProbeTimeout
	}
	if result.ParseTimeout == 0 {
		result.ParseTimeout = defaults.ParseTimeout
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// ApplyEnv overrides fields from CATALOG_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvManifest); v != "" {
		c.Manifest = v
	}
	if v := os.Getenv(EnvUserAgent); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv(EnvProbeTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvProbeTimeout, err)
		}
		c.ProbeTimeout = Duration(d)
	}
	if v := os.Getenv(EnvParseTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvParseTimeout, err)
		}
		c.ParseTimeout = Duration(d)
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.Port = port
	}
	return nil
}

// Resolve loads path (if any), applies the environment, fills defaults and validates.
func Resolve(path string) (Config, error) {
	cfg := &Config{}
	if path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}

	merged := cfg.MergeWithDefaults(Defaults())
	if err := merged.Validate(); err != nil {
		return Config{}, err
	}
	return merged, nil
}

// FetchOptions builds HTTP options for probes and manifest fetches.
func (c *Config) FetchOptions() *fetch.Options {
	opts := fetch.DefaultOptions()
	if c.UserAgent != "" {
		opts.UserAgent = c.UserAgent
	}
	return opts
}

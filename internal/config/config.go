// Package config loads and validates confmig YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/confmig/confmig/internal/logger"
)

// Auth holds Confluence credentials. An API token is preferred for Cloud
// instances; password works for Server/DC.
type Auth struct {
	Username string `yaml:"username"`
	APIToken string `yaml:"api_token"`
	Password string `yaml:"password"`
}

// Confluence holds connection settings for one Confluence instance.
type Confluence struct {
	BaseURL string `yaml:"base_url"`
	Auth    Auth   `yaml:"auth"`
}

// ExportFormat selects which artifacts the exporter writes.
type ExportFormat struct {
	HTML        bool `yaml:"html"`
	Attachments bool `yaml:"attachments"`
	Comments    bool `yaml:"comments"`
}

// ExportNaming controls export filename generation.
type ExportNaming struct {
	IncludePageID bool `yaml:"include_page_id"`
}

// Export holds export engine settings.
type Export struct {
	OutputDirectory string       `yaml:"output_directory"`
	Format          ExportFormat `yaml:"format"`
	Naming          ExportNaming `yaml:"naming"`
}

// Import holds import engine settings.
type Import struct {
	// ConflictResolution is one of: skip, overwrite, update_newer, rename.
	ConflictResolution   string `yaml:"conflict_resolution"`
	CreateMissingParents bool   `yaml:"create_missing_parents"`
	ImportAttachments    bool   `yaml:"import_attachments"`
}

// Retry holds transport retry settings.
type Retry struct {
	MaxAttempts   int     `yaml:"max_attempts"`
	BackoffFactor float64 `yaml:"backoff_factor"`
}

// General holds settings shared by all commands.
type General struct {
	Verbose    bool    `yaml:"verbose"`
	MaxWorkers int     `yaml:"max_workers"`
	TimeoutSec int     `yaml:"timeout"`
	RateLimit  float64 `yaml:"rate_limit"` // requests per second
	Retry      Retry   `yaml:"retry"`
}

// Logging holds log output settings.
type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Config is the full confmig configuration.
type Config struct {
	Confluence Confluence `yaml:"confluence"`
	Export     Export     `yaml:"export"`
	Import     Import     `yaml:"import"`
	General    General    `yaml:"general"`
	Logging    Logging    `yaml:"logging"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Export: Export{
			OutputDirectory: "./exports",
			Format:          ExportFormat{HTML: true, Attachments: true, Comments: true},
		},
		Import: Import{
			ConflictResolution:   "skip",
			CreateMissingParents: true,
			ImportAttachments:    true,
		},
		General: General{
			MaxWorkers: 5,
			TimeoutSec: 30,
			RateLimit:  10,
			Retry:      Retry{MaxAttempts: 3, BackoffFactor: 2},
		},
		Logging: Logging{Level: "info"},
	}
}

// Load reads configuration from path. When path is empty the search order is
// ./config.yaml then ~/.confmig.yaml. Credentials may also come from the
// environment (a local .env file is loaded first if present):
// CONFMIG_BASE_URL, CONFMIG_USERNAME, CONFMIG_API_TOKEN, CONFMIG_PASSWORD.
func Load(path string) (*Config, error) {
	resolved, err := findConfigPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", resolved, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file %s: %w", resolved, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", resolved, err)
	}
	return cfg, nil
}

func findConfigPath(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("specified configuration file not found: %s", path)
		}
		return path, nil
	}

	cwdConfig := filepath.Join(".", "config.yaml")
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		homeConfig := filepath.Join(home, ".confmig.yaml")
		if _, err := os.Stat(homeConfig); err == nil {
			return homeConfig, nil
		}
	}

	return "", fmt.Errorf("configuration file not found: create config.yaml in the current directory, ~/.confmig.yaml, or pass --config")
}

// applyEnvOverrides lets credentials live outside the YAML file.
func applyEnvOverrides(cfg *Config) {
	// A missing .env is the normal case, not an error.
	if err := godotenv.Load(); err == nil {
		logger.Debug("config: loaded .env file")
	}

	if v := os.Getenv("CONFMIG_BASE_URL"); v != "" {
		cfg.Confluence.BaseURL = v
	}
	if v := os.Getenv("CONFMIG_USERNAME"); v != "" {
		cfg.Confluence.Auth.Username = v
	}
	if v := os.Getenv("CONFMIG_API_TOKEN"); v != "" {
		cfg.Confluence.Auth.APIToken = v
	}
	if v := os.Getenv("CONFMIG_PASSWORD"); v != "" {
		cfg.Confluence.Auth.Password = v
	}
}

// Validate checks that the configuration is usable for API operations.
func (c *Config) Validate() error {
	if c.Confluence.BaseURL == "" {
		return fmt.Errorf("confluence.base_url is required")
	}
	if c.Confluence.Auth.Username == "" {
		return fmt.Errorf("confluence.auth.username is required")
	}
	if c.Confluence.Auth.APIToken == "" && c.Confluence.Auth.Password == "" {
		return fmt.Errorf("either confluence.auth.api_token or confluence.auth.password is required")
	}
	switch c.Import.ConflictResolution {
	case "", "skip", "overwrite", "update_newer", "rename":
	default:
		return fmt.Errorf("import.conflict_resolution must be one of skip, overwrite, update_newer, rename (got %q)", c.Import.ConflictResolution)
	}
	if c.General.MaxWorkers < 1 {
		return fmt.Errorf("general.max_workers must be at least 1")
	}
	return nil
}

const sampleConfig = `# confmig configuration
confluence:
  base_url: "https://your-instance.atlassian.net"
  auth:
    username: "your-email@example.com"
    # Prefer an API token: https://id.atlassian.com/manage-profile/security/api-tokens
    # Both values may instead come from CONFMIG_API_TOKEN / CONFMIG_PASSWORD
    # environment variables or a local .env file.
    api_token: ""
    password: ""

export:
  output_directory: "./exports"
  format:
    html: true
    attachments: true
    comments: true
  naming:
    include_page_id: false

import:
  # skip | overwrite | update_newer | rename
  conflict_resolution: "skip"
  create_missing_parents: true
  import_attachments: true

general:
  verbose: false
  max_workers: 5
  timeout: 30
  rate_limit: 10
  retry:
    max_attempts: 3
    backoff_factor: 2

logging:
  level: "info"
  file: ""
`

// WriteSample writes a commented sample configuration to path.
// It refuses to overwrite an existing file.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing file %s", path)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write sample config: %w", err)
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
confluence:
  base_url: "https://example.atlassian.net"
  auth:
    username: "user@example.com"
    api_token: "token"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Confluence.BaseURL != "https://example.atlassian.net" {
		t.Errorf("BaseURL = %q", cfg.Confluence.BaseURL)
	}
	if cfg.Import.ConflictResolution != "skip" {
		t.Errorf("ConflictResolution = %q, want default skip", cfg.Import.ConflictResolution)
	}
	if cfg.General.MaxWorkers != 5 || cfg.General.TimeoutSec != 30 {
		t.Errorf("General = %+v, want defaults", cfg.General)
	}
	if cfg.General.Retry.MaxAttempts != 3 || cfg.General.Retry.BackoffFactor != 2 {
		t.Errorf("Retry = %+v, want defaults", cfg.General.Retry)
	}
	if !cfg.Export.Format.Attachments {
		t.Error("attachments export should default to true")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
import:
  conflict_resolution: "rename"
general:
  max_workers: 2
  rate_limit: 1
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Import.ConflictResolution != "rename" {
		t.Errorf("ConflictResolution = %q, want rename", cfg.Import.ConflictResolution)
	}
	if cfg.General.MaxWorkers != 2 || cfg.General.RateLimit != 1 {
		t.Errorf("General = %+v", cfg.General)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load accepted a missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "confluence: [not a map"))
	if err == nil || !strings.Contains(err.Error(), "invalid YAML") {
		t.Errorf("err = %v, want invalid YAML error", err)
	}
}

func TestEnvOverridesCredentials(t *testing.T) {
	t.Setenv("CONFMIG_API_TOKEN", "env-token")
	t.Setenv("CONFMIG_USERNAME", "env-user")

	cfg, err := Load(writeConfig(t, `
confluence:
  base_url: "https://example.atlassian.net"
  auth:
    username: "file-user"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Confluence.Auth.APIToken != "env-token" {
		t.Errorf("APIToken = %q, want env-token", cfg.Confluence.Auth.APIToken)
	}
	if cfg.Confluence.Auth.Username != "env-user" {
		t.Errorf("Username = %q, want env override", cfg.Confluence.Auth.Username)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.Confluence.BaseURL = "https://example.atlassian.net"
		cfg.Confluence.Auth.Username = "u"
		cfg.Confluence.Auth.APIToken = "t"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"password instead of token", func(c *Config) {
			c.Confluence.Auth.APIToken = ""
			c.Confluence.Auth.Password = "p"
		}, ""},
		{"missing base url", func(c *Config) { c.Confluence.BaseURL = "" }, "base_url"},
		{"missing username", func(c *Config) { c.Confluence.Auth.Username = "" }, "username"},
		{"no credentials", func(c *Config) { c.Confluence.Auth.APIToken = "" }, "api_token"},
		{"bad conflict policy", func(c *Config) { c.Import.ConflictResolution = "merge" }, "conflict_resolution"},
		{"zero workers", func(c *Config) { c.General.MaxWorkers = 0 }, "max_workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestWriteSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Errorf("sample config is not valid YAML: %v", err)
	}
	if cfg.General.MaxWorkers != 5 {
		t.Errorf("sample max_workers = %d, want 5", cfg.General.MaxWorkers)
	}

	if err := WriteSample(path); err == nil {
		t.Error("WriteSample overwrote an existing file")
	}
}

// Package config holds the application configuration. The file is plain
// JSON; any field left out keeps its default, so a minimal config can be a
// single section.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	Server ServerConfig `json:"server"`
	Policy PolicyConfig `json:"policy"`
	Audit  AuditConfig  `json:"audit"`
	Exec   ExecConfig   `json:"exec"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"` // debug, info, warn, error
}

// PolicyConfig points at the command policy file. An empty path means the
// built-in defaults.
type PolicyConfig struct {
	Path string `json:"path"`
}

// AuditConfig configures the execution audit log.
type AuditConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
	PruneSchedule string `json:"prune_schedule"` // five-field cron expression
}

// ExecConfig bounds pipeline execution.
type ExecConfig struct {
	MaxConcurrent int `json:"max_concurrent"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8091,
			LogLevel: "info",
		},
		Policy: PolicyConfig{},
		Audit: AuditConfig{
			Enabled:       true,
			Path:          "data/audit.db",
			RetentionDays: 30,
			PruneSchedule: "0 * * * *",
		},
		Exec: ExecConfig{
			MaxConcurrent: 8,
		},
	}
}

// Load reads the config at path, overlaying it on the defaults. A missing
// file is not an error; the defaults apply as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: mkdir %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", c.Server.LogLevel)
	}
	if c.Audit.Enabled {
		if c.Audit.Path == "" {
			return fmt.Errorf("audit.path is required when audit is enabled")
		}
		if c.Audit.RetentionDays < 1 {
			return fmt.Errorf("audit.retention_days must be at least 1")
		}
	}
	if c.Exec.MaxConcurrent < 1 {
		return fmt.Errorf("exec.max_concurrent must be at least 1")
	}
	return nil
}

// Addr returns the host:port the server should bind.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

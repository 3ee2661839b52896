// Package daemonconfig holds doryd's on-disk configuration: which
// instances to bring up, against which backend, and how to expose the
// admin surface. Layout and override rules follow noisefs's JSON
// config-with-environment-overrides pattern.
package daemonconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// InstanceConfig describes one dory device to construct at startup.
type InstanceConfig struct {
	Name        string `json:"name"`
	Backend     string `json:"backend"` // "file", "memory", or "postgres"
	BackingPath string `json:"backing_path"`
	BlockSize   uint32 `json:"block_size"`
	SlotCount   uint32 `json:"slot_count"`
	TornMask    uint32 `json:"torn_mask"`
	TornModulus uint32 `json:"torn_modulus"`

	// SizeBytes sizes the backend; for postgres it is divided by the block
	// size to give the sector count.
	SizeBytes int64 `json:"size_bytes"`

	// Postgres-only fields; ignored unless Backend == "postgres".
	PostgresConnectionString string `json:"postgres_connection_string"`
	PostgresMaxConnections   int32  `json:"postgres_max_connections"`
}

// AdminHTTPConfig configures the HTTP admin transport.
type AdminHTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// AdminFileConfig configures the sysfs-style admin directory transport.
type AdminFileConfig struct {
	Enabled           bool   `json:"enabled"`
	Root              string `json:"root"`
	RefreshIntervalMS int    `json:"refresh_interval_ms"`
}

// LoggingConfig mirrors pkg/logging.Config's JSON-facing fields.
type LoggingConfig struct {
	Level string `json:"level"`
	// Format is "text" or "json".
	Format string `json:"format"`
}

// Config is doryd's full on-disk/environment configuration.
type Config struct {
	Instances []InstanceConfig `json:"instances"`
	AdminHTTP AdminHTTPConfig  `json:"admin_http"`
	AdminFile AdminFileConfig  `json:"admin_file"`
	Logging   LoggingConfig    `json:"logging"`
}

// DefaultConfig returns a Config with no instances and the admin
// transports enabled on conventional defaults.
func DefaultConfig() *Config {
	return &Config{
		Instances: nil,
		AdminHTTP: AdminHTTPConfig{
			Enabled: true,
			Addr:    ":9099",
		},
		AdminFile: AdminFileConfig{
			Enabled:           true,
			Root:              "/var/run/dory",
			RefreshIntervalMS: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from configPath, falling back to
// defaults when configPath is empty or the file does not exist, then
// applies environment overrides and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	if val := os.Getenv("DORY_ADMIN_HTTP_ADDR"); val != "" {
		c.AdminHTTP.Addr = val
	}
	if val := os.Getenv("DORY_ADMIN_HTTP_ENABLED"); val != "" {
		c.AdminHTTP.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("DORY_ADMIN_FILE_ROOT"); val != "" {
		c.AdminFile.Root = val
	}
	if val := os.Getenv("DORY_ADMIN_FILE_ENABLED"); val != "" {
		c.AdminFile.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("DORY_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("DORY_LOG_FORMAT"); val != "" {
		c.Logging.Format = val
	}
}

// Validate checks the configuration for internal consistency. It does
// not reach out to any backend; device.Config.Validate handles the
// per-instance block-size/slot-count/torn-parameter constraints.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	seen := make(map[string]bool, len(c.Instances))
	for _, inst := range c.Instances {
		if inst.Name == "" {
			return fmt.Errorf("instance name cannot be empty")
		}
		if seen[inst.Name] {
			return fmt.Errorf("duplicate instance name: %s", inst.Name)
		}
		seen[inst.Name] = true

		switch inst.Backend {
		case "file", "memory", "postgres":
		default:
			return fmt.Errorf("instance %s: unknown backend %q", inst.Name, inst.Backend)
		}
		if inst.SizeBytes <= 0 {
			return fmt.Errorf("instance %s: size_bytes must be positive", inst.Name)
		}
		if inst.Backend == "postgres" && inst.PostgresConnectionString == "" {
			return fmt.Errorf("instance %s: postgres_connection_string is required", inst.Name)
		}
	}
	return nil
}

// RefreshInterval converts AdminFile.RefreshIntervalMS to a duration,
// defaulting to one second for a non-positive value.
func (a AdminFileConfig) RefreshInterval() time.Duration {
	if a.RefreshIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(a.RefreshIntervalMS) * time.Millisecond
}

// SaveToFile writes the configuration to path as indented JSON.
func (c *Config) SaveToFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// GetDefaultConfigPath returns ~/.dory/config.json.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".dory", "config.json"), nil
}

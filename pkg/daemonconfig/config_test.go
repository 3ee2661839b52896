package daemonconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.AdminHTTP.Addr != ":9099" {
		t.Errorf("default admin http addr = %q, want %q", cfg.AdminHTTP.Addr, ":9099")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default log level = %q, want %q", cfg.Logging.Level, "info")
	}
	if len(cfg.Instances) != 0 {
		t.Errorf("default config should have no instances, got %d", len(cfg.Instances))
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}

	cfg.Logging.Level = "invalid"
	if err := cfg.Validate(); err == nil {
		t.Error("invalid log level should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Instances = []InstanceConfig{
		{Name: "a", Backend: "memory", SizeBytes: 4096},
		{Name: "a", Backend: "memory", SizeBytes: 4096},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("duplicate instance names should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Instances = []InstanceConfig{{Name: "b", Backend: "unknown"}}
	if err := cfg.Validate(); err == nil {
		t.Error("unknown backend should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Instances = []InstanceConfig{{Name: "c", Backend: "postgres", SizeBytes: 4096}}
	if err := cfg.Validate(); err == nil {
		t.Error("postgres backend without a connection string should fail validation")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	os.Setenv("DORY_ADMIN_HTTP_ADDR", "127.0.0.1:7070")
	os.Setenv("DORY_LOG_LEVEL", "debug")
	defer func() {
		os.Unsetenv("DORY_ADMIN_HTTP_ADDR")
		os.Unsetenv("DORY_LOG_LEVEL")
	}()

	cfg := DefaultConfig()
	cfg.applyEnvironmentOverrides()

	if cfg.AdminHTTP.Addr != "127.0.0.1:7070" {
		t.Errorf("environment override failed for admin http addr, got %s", cfg.AdminHTTP.Addr)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("environment override failed for log level, got %s", cfg.Logging.Level)
	}
}

func TestConfigFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	cfg.Instances = []InstanceConfig{{Name: "main", Backend: "memory", SizeBytes: 4096 * 16, BlockSize: 4096}}

	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(loaded.Instances) != 1 || loaded.Instances[0].Name != "main" {
		t.Errorf("loaded config instances = %+v, want one instance named main", loaded.Instances)
	}
}

func TestLoadNonexistentConfigUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.json")
	if err != nil {
		t.Fatalf("loading a nonexistent config should not error: %v", err)
	}
	if cfg.AdminHTTP.Addr != ":9099" {
		t.Errorf("nonexistent config should use defaults, got %s", cfg.AdminHTTP.Addr)
	}
}

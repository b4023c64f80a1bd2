package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Run.MaxConcurrent != 4 {
		t.Errorf("expected default max_concurrent 4, got %d", cfg.Run.MaxConcurrent)
	}
	if cfg.Run.LeaseTTL != 2*time.Minute {
		t.Errorf("expected default lease_ttl 2m, got %v", cfg.Run.LeaseTTL)
	}
	if !cfg.NATS.Embedded {
		t.Error("expected embedded NATS by default")
	}
	if !cfg.Evidence.SnapshotURLs {
		t.Error("expected url snapshotting enabled by default")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero max_concurrent",
			modify:  func(c *Config) { c.Run.MaxConcurrent = 0 },
			wantErr: true,
		},
		{
			name:    "negative lease_ttl",
			modify:  func(c *Config) { c.Run.LeaseTTL = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero attempt_timeout",
			modify:  func(c *Config) { c.Run.AttemptTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero snapshot_timeout",
			modify:  func(c *Config) { c.Evidence.SnapshotTimeout = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temp file with config
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
plan:
  path: "/test/verify-plan.yaml"
  watch: true
run:
  max_concurrent: 8
  lease_ttl: 10m
  attempt_timeout: 20m
nats:
  url: "nats://test:4222"
evidence:
  snapshot_timeout: 30s
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Plan.Path != "/test/verify-plan.yaml" {
		t.Errorf("expected plan path /test/verify-plan.yaml, got %s", cfg.Plan.Path)
	}
	if !cfg.Plan.Watch {
		t.Error("expected plan watch enabled")
	}
	if cfg.Run.MaxConcurrent != 8 {
		t.Errorf("expected max_concurrent 8, got %d", cfg.Run.MaxConcurrent)
	}
	if cfg.Run.LeaseTTL != 10*time.Minute {
		t.Errorf("expected lease_ttl 10m, got %v", cfg.Run.LeaseTTL)
	}
	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
	if cfg.Evidence.SnapshotTimeout != 30*time.Second {
		t.Errorf("expected snapshot_timeout 30s, got %v", cfg.Evidence.SnapshotTimeout)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Plan: PlanConfig{
			Path: "/override/plan.yaml",
		},
		NATS: NATSConfig{
			URL: "nats://override:4222",
		},
	}

	base.Merge(override)

	if base.Plan.Path != "/override/plan.yaml" {
		t.Errorf("expected plan path /override/plan.yaml, got %s", base.Plan.Path)
	}
	// Run settings should remain from base since override didn't set them
	if base.Run.MaxConcurrent != 4 {
		t.Errorf("expected max_concurrent to remain default, got %d", base.Run.MaxConcurrent)
	}
	if base.NATS.URL != "nats://override:4222" {
		t.Errorf("expected NATS URL nats://override:4222, got %s", base.NATS.URL)
	}
	// An explicit URL disables the embedded server.
	if base.NATS.Embedded {
		t.Error("expected embedded NATS disabled after URL override")
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Plan.Path = "/saved/plan.yaml"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	// Verify file was created
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	// Load and verify
	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Plan.Path != "/saved/plan.yaml" {
		t.Errorf("expected plan path /saved/plan.yaml, got %s", loaded.Plan.Path)
	}
}

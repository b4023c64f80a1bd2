// Package config provides configuration loading and management for Veriflow.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Veriflow configuration
type Config struct {
	Plan     PlanConfig     `yaml:"plan"`
	Run      RunConfig      `yaml:"run"`
	NATS     NATSConfig     `yaml:"nats"`
	Evidence EvidenceConfig `yaml:"evidence"`
}

// PlanConfig configures the verification plan source
type PlanConfig struct {
	// Path is the verification plan file (auto-detected from the repo
	// root if empty)
	Path string `yaml:"path"`
	// Watch reloads the plan when the file changes
	Watch bool `yaml:"watch"`
}

// RunConfig configures run execution
type RunConfig struct {
	// MaxConcurrent bounds parallel unit attempts within a batch
	MaxConcurrent int `yaml:"max_concurrent"`
	// LeaseTTL is how long a claimed unit stays leased without a commit
	LeaseTTL time.Duration `yaml:"lease_ttl"`
	// AttemptTimeout bounds one worker attempt on one unit
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
}

// EvidenceConfig configures url evidence snapshotting
type EvidenceConfig struct {
	// SnapshotURLs archives url evidence as markdown at raise time
	SnapshotURLs bool `yaml:"snapshot_urls"`
	// SnapshotTimeout bounds one snapshot fetch
	SnapshotTimeout time.Duration `yaml:"snapshot_timeout"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Plan: PlanConfig{
			Path:  "", // Auto-detect
			Watch: false,
		},
		Run: RunConfig{
			MaxConcurrent:  4,
			LeaseTTL:       2 * time.Minute,
			AttemptTimeout: 5 * time.Minute,
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Evidence: EvidenceConfig{
			SnapshotURLs:    true,
			SnapshotTimeout: 15 * time.Second,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Run.MaxConcurrent < 1 {
		return fmt.Errorf("run.max_concurrent must be at least 1")
	}
	if c.Run.LeaseTTL <= 0 {
		return fmt.Errorf("run.lease_ttl must be positive")
	}
	if c.Run.AttemptTimeout <= 0 {
		return fmt.Errorf("run.attempt_timeout must be positive")
	}
	if c.Evidence.SnapshotTimeout <= 0 {
		return fmt.Errorf("evidence.snapshot_timeout must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Plan
	if other.Plan.Path != "" {
		c.Plan.Path = other.Plan.Path
	}
	if other.Plan.Watch {
		c.Plan.Watch = true
	}

	// Run
	if other.Run.MaxConcurrent != 0 {
		c.Run.MaxConcurrent = other.Run.MaxConcurrent
	}
	if other.Run.LeaseTTL != 0 {
		c.Run.LeaseTTL = other.Run.LeaseTTL
	}
	if other.Run.AttemptTimeout != 0 {
		c.Run.AttemptTimeout = other.Run.AttemptTimeout
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	// Evidence
	if other.Evidence.SnapshotTimeout != 0 {
		c.Evidence.SnapshotTimeout = other.Evidence.SnapshotTimeout
	}
}

package runorchestrator

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// orchestratorSchema defines the configuration schema.
var orchestratorSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the run orchestrator component.
type Config struct {
	// StreamName is the JetStream stream carrying run triggers.
	StreamName string `json:"stream_name"`

	// ConsumerName is the durable consumer name.
	ConsumerName string `json:"consumer_name"`

	// TriggerSubject is the subject run triggers arrive on.
	TriggerSubject string `json:"trigger_subject"`

	// PlanPath is the verification plan file to load at startup.
	PlanPath string `json:"plan_path"`

	// MaxConcurrent bounds parallel unit attempts within a batch.
	MaxConcurrent int `json:"max_concurrent"`

	// LeaseTTL is how long a unit claim lives before expiring.
	LeaseTTL string `json:"lease_ttl"`

	// AttemptTimeout bounds a single worker attempt.
	AttemptTimeout string `json:"attempt_timeout"`

	// WatchPlan enables debounced plan file reloading.
	WatchPlan bool `json:"watch_plan"`

	// DebounceDelay is how long to wait for more plan changes before
	// reloading.
	DebounceDelay string `json:"debounce_delay"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:     "VERIFY",
		ConsumerName:   "run-orchestrator",
		TriggerSubject: "verify.run.trigger",
		PlanPath:       "verify-plan.yaml",
		MaxConcurrent:  4,
		LeaseTTL:       "2m",
		AttemptTimeout: "5m",
		WatchPlan:      false,
		DebounceDelay:  "500ms",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "run-triggers",
					Type:        "jetstream",
					Subject:     "verify.run.trigger",
					StreamName:  "VERIFY",
					Description: "Verification run trigger messages",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "commit-records",
					Type:        "jetstream",
					Subject:     "verify.commit.>",
					StreamName:  "VERIFY",
					Description: "Sealed commit records, one subject per unit",
					Required:    true,
				},
				{
					Name:        "engine-events",
					Type:        "jetstream",
					Subject:     "verify.events.>",
					StreamName:  "VERIFY",
					Description: "Level, challenge, batch, and run events",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.TriggerSubject == "" {
		return fmt.Errorf("trigger_subject is required")
	}
	if c.PlanPath == "" {
		return fmt.Errorf("plan_path is required")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	if _, err := time.ParseDuration(c.LeaseTTL); err != nil {
		return fmt.Errorf("invalid lease_ttl: %w", err)
	}
	if _, err := time.ParseDuration(c.AttemptTimeout); err != nil {
		return fmt.Errorf("invalid attempt_timeout: %w", err)
	}
	if c.DebounceDelay != "" {
		if _, err := time.ParseDuration(c.DebounceDelay); err != nil {
			return fmt.Errorf("invalid debounce_delay: %w", err)
		}
	}
	return nil
}

// GetLeaseTTL returns the lease TTL as a duration.
func (c *Config) GetLeaseTTL() time.Duration {
	d, err := time.ParseDuration(c.LeaseTTL)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// GetAttemptTimeout returns the attempt timeout as a duration.
func (c *Config) GetAttemptTimeout() time.Duration {
	d, err := time.ParseDuration(c.AttemptTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetDebounceDelay returns the plan watch debounce delay as a duration.
func (c *Config) GetDebounceDelay() time.Duration {
	d, err := time.ParseDuration(c.DebounceDelay)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

package verifyapi

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// apiSchema defines the configuration schema.
var apiSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the verify-api component.
type Config struct {
	// StreamName is the JetStream stream carrying verification traffic.
	StreamName string `json:"stream_name"`

	// ConsumerName is the durable consumer tailing events for metrics.
	ConsumerName string `json:"consumer_name"`

	// SnapshotEvidence enables archiving url evidence as markdown at
	// challenge raise time.
	SnapshotEvidence bool `json:"snapshot_evidence"`

	// SnapshotTimeout bounds one evidence snapshot fetch.
	SnapshotTimeout string `json:"snapshot_timeout"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:       "VERIFY",
		ConsumerName:     "verify-api-metrics",
		SnapshotEvidence: true,
		SnapshotTimeout:  "15s",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "engine-events",
					Type:        "jetstream",
					Subject:     "verify.events.>",
					StreamName:  "VERIFY",
					Description: "Engine events tailed for API metrics",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "challenge-ops",
					Type:        "jetstream",
					Subject:     "verify.challenge.>",
					StreamName:  "VERIFY",
					Description: "Challenge raise and resolve commands",
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
	if c.SnapshotTimeout != "" {
		if _, err := time.ParseDuration(c.SnapshotTimeout); err != nil {
			return fmt.Errorf("invalid snapshot_timeout: %w", err)
		}
	}
	return nil
}

// GetSnapshotTimeout returns the snapshot timeout as a duration.
func (c *Config) GetSnapshotTimeout() time.Duration {
	d, err := time.ParseDuration(c.SnapshotTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

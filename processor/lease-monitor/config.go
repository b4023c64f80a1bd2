package leasemonitor

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/veriflow/storage"
)

// monitorSchema defines the configuration schema.
var monitorSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the lease monitor component.
type Config struct {
	// SweepInterval is how often to check for expired leases.
	SweepInterval time.Duration `json:"sweep_interval"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		SweepInterval: 30 * time.Second,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "lease-records",
					Type:        "kv-watch",
					Subject:     storage.BucketLeases,
					Description: "Lease mirrors written by the run orchestrator",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "expiry-events",
					Type:        "jetstream",
					Subject:     "verify.lease.expired.>",
					StreamName:  "VERIFY",
					Description: "Publish lease expiry events",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	return nil
}

package leasemonitor

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the lease monitor component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "lease-monitor",
		Factory:     NewComponent,
		Schema:      monitorSchema,
		Type:        "processor",
		Protocol:    "lease",
		Domain:      "verify",
		Description: "Sweeps expired unit leases and publishes expiry events",
		Version:     "0.1.0",
	})
}

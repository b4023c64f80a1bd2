package verifyapi

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the verify-api component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "verify-api",
		Factory:     NewComponent,
		Schema:      apiSchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "verify",
		Description: "HTTP API over verification state with prometheus metrics",
		Version:     "0.1.0",
	})
}

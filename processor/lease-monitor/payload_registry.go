package leasemonitor

import "github.com/c360studio/semstreams/component"

func init() {
	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "verify",
		Category:    "lease_expired",
		Version:     "v1",
		Description: "Lease expiry event when a worker claim outlives its deadline",
		Factory:     func() any { return &ExpiryEvent{} },
	}); err != nil {
		panic("failed to register ExpiryEvent: " + err.Error())
	}
}

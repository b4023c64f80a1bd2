// Package leasemonitor provides a processor that sweeps expired unit
// leases and publishes expiry events so stalled claims free their units
// for other workers.
package leasemonitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/veriflow/storage"
)

// Component implements the lease-monitor processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	leases *storage.LeaseStore

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	sweepsPerformed atomic.Int64
	leasesExpired   atomic.Int64
	lastSweepMu     sync.RWMutex
	lastSweep       time.Time
}

// NewComponent creates a new lease-monitor processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.SweepInterval == 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "lease-monitor",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized lease-monitor",
		"sweep_interval", c.config.SweepInterval)
	return nil
}

// Start begins sweeping expired leases.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	if c.leases == nil {
		js, err := c.natsClient.JetStream()
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("get jetstream: %w", err)
		}
		leases, err := storage.NewLeaseStore(ctx, js)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("create lease store: %w", err)
		}
		c.leases = leases
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.sweepLoop(subCtx)

	c.logger.Info("lease-monitor started",
		"sweep_interval", c.config.SweepInterval)

	return nil
}

// sweepLoop periodically sweeps for expired leases.
func (c *Component) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	// Run immediately on start
	c.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

// sweep finds expired leases, publishes expiry events, and removes the
// stale mirrors.
func (c *Component) sweep(ctx context.Context) {
	c.sweepsPerformed.Add(1)
	c.updateLastSweep()

	leases, err := c.leases.List(ctx)
	if err != nil {
		c.logger.Error("Failed to list leases", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, lease := range leases {
		if !lease.Expired(now) {
			continue
		}

		c.leasesExpired.Add(1)
		c.logger.Info("Lease expired",
			"unit_id", lease.UnitID,
			"owner", lease.Owner,
			"claimed_at", lease.ClaimedAt,
			"expired_at", lease.ExpiresAt)

		if err := c.publishExpiry(ctx, lease, now); err != nil {
			c.logger.Warn("Failed to publish lease expiry",
				"unit_id", lease.UnitID,
				"error", err)
			continue
		}

		if err := c.leases.Delete(ctx, lease.UnitID); err != nil {
			c.logger.Warn("Failed to delete expired lease mirror",
				"unit_id", lease.UnitID,
				"error", err)
		}
	}
}

// publishExpiry publishes a lease expiry event for a unit.
func (c *Component) publishExpiry(ctx context.Context, lease *storage.LeaseRecord, now time.Time) error {
	event := ExpiryEvent{
		UnitID:    lease.UnitID,
		Token:     lease.Token,
		Owner:     lease.Owner,
		ClaimedAt: lease.ClaimedAt,
		ExpiredAt: now,
	}

	baseMsg := message.NewBaseMessage(ExpiryEventType, &event, "lease-monitor")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("verify.lease.expired.%s", lease.UnitID)
	if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	return nil
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}

	c.running = false
	c.logger.Info("lease-monitor stopped",
		"sweeps_performed", c.sweepsPerformed.Load(),
		"leases_expired", c.leasesExpired.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "lease-monitor",
		Type:        "processor",
		Description: "Sweeps expired unit leases and publishes expiry events",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return monitorSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: 0,
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastSweep(),
	}
}

func (c *Component) updateLastSweep() {
	c.lastSweepMu.Lock()
	c.lastSweep = time.Now()
	c.lastSweepMu.Unlock()
}

func (c *Component) getLastSweep() time.Time {
	c.lastSweepMu.RLock()
	defer c.lastSweepMu.RUnlock()
	return c.lastSweep
}

// ExpiryEvent represents an expired lease on a unit.
type ExpiryEvent struct {
	UnitID    string    `json:"unit_id"`
	Token     string    `json:"token"`
	Owner     string    `json:"owner,omitempty"`
	ClaimedAt time.Time `json:"claimed_at"`
	ExpiredAt time.Time `json:"expired_at"`
}

// Schema returns the message type for this payload.
func (e *ExpiryEvent) Schema() message.Type {
	return ExpiryEventType
}

// Validate validates the event.
func (e *ExpiryEvent) Validate() error {
	if e.UnitID == "" {
		return fmt.Errorf("unit_id is required")
	}
	if e.Token == "" {
		return fmt.Errorf("token is required")
	}
	return nil
}

// MarshalJSON marshals the event to JSON.
func (e *ExpiryEvent) MarshalJSON() ([]byte, error) {
	type Alias ExpiryEvent
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the event from JSON.
func (e *ExpiryEvent) UnmarshalJSON(data []byte) error {
	type Alias ExpiryEvent
	return json.Unmarshal(data, (*Alias)(e))
}

// ExpiryEventType is the message type for lease expiry events.
var ExpiryEventType = message.Type{
	Domain:   "verify",
	Category: "lease_expired",
	Version:  "v1",
}

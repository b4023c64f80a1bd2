// Package verifyapi provides the HTTP surface over the verification
// state: units and their level history, challenges, the commit ledger,
// run summaries, and the review queue. It also tails the event stream to
// keep prometheus counters current.
package verifyapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/veriflow/evidence"
	"github.com/c360studio/veriflow/review"
	"github.com/c360studio/veriflow/storage"
	"github.com/c360studio/veriflow/verify"
)

// Component implements the verify-api processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	registry *prometheus.Registry
	metrics  *Metrics

	// Read-side stores, set during Start. storeMu guards the fields, not
	// the stores themselves.
	storeMu    sync.RWMutex
	units      unitDirectory
	challenges challengeDirectory
	commits    commitSource
	pub        streamPublisher
	snap       pageArchiver
	reviews    review.ItemStore

	// reviewHandler is built at construction so RegisterHTTPHandlers
	// works before Start; it routes through the gate below.
	reviewHandler *review.HTTPHandler

	consumer jetstream.Consumer

	// Lifecycle state machine
	// States: 0=stopped, 1=starting, 2=running, 3=stopping
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	eventsObserved atomic.Int64
	parseFailures  atomic.Int64
	lastEventMu    sync.RWMutex
	lastEvent      time.Time
}

const (
	stateStopped  = 0
	stateStarting = 1
	stateRunning  = 2
	stateStopping = 3
)

// NewComponent constructs a verify-api Component from raw JSON config and deps.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.StreamName == "" {
		config.StreamName = defaults.StreamName
	}
	if config.ConsumerName == "" {
		config.ConsumerName = defaults.ConsumerName
	}
	if config.SnapshotTimeout == "" {
		config.SnapshotTimeout = defaults.SnapshotTimeout
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	registry := prometheus.NewRegistry()

	c := &Component{
		name:       "verify-api",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		registry:   registry,
		metrics:    NewMetrics(registry),
	}
	if config.SnapshotEvidence {
		c.snap = evidence.NewSnapshotter(config.GetSnapshotTimeout())
	}
	c.reviewHandler = review.NewHTTPHandler(&reviewGate{c: c}, c.logger)

	return c, nil
}

// reviewGate defers store resolution to request time so the review
// handler can be registered before the component starts.
type reviewGate struct {
	c *Component
}

func (g *reviewGate) store() (review.ItemStore, error) {
	g.c.storeMu.RLock()
	defer g.c.storeMu.RUnlock()
	if g.c.reviews == nil {
		return nil, fmt.Errorf("review queue not started")
	}
	return g.c.reviews, nil
}

func (g *reviewGate) Get(ctx context.Context, id string) (*review.Item, error) {
	s, err := g.store()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (g *reviewGate) List(ctx context.Context, status review.ItemStatus) ([]*review.Item, error) {
	s, err := g.store()
	if err != nil {
		return nil, err
	}
	return s.List(ctx, status)
}

func (g *reviewGate) Decide(ctx context.Context, id, decision, decidedBy string) (*review.Item, error) {
	s, err := g.store()
	if err != nil {
		return nil, err
	}
	return s.Decide(ctx, id, decision, decidedBy)
}

// Bucket exposes the review KV bucket for SSE watching when the backing
// store provides one.
func (g *reviewGate) Bucket() jetstream.KeyValue {
	g.c.storeMu.RLock()
	defer g.c.storeMu.RUnlock()
	if provider, ok := g.c.reviews.(review.BucketProvider); ok {
		return provider.Bucket()
	}
	return nil
}

// Initialize prepares the component for startup.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized verify-api", "stream", c.config.StreamName)
	return nil
}

// Start wires the stores and begins tailing events for metrics.
func (c *Component) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(stateStopped, stateStarting) {
		current := c.state.Load()
		if current == stateRunning || current == stateStarting {
			return fmt.Errorf("component already running or starting")
		}
		return fmt.Errorf("component in invalid state: %d", current)
	}

	defer func() {
		if c.state.Load() == stateStarting {
			c.state.Store(stateStopped)
		}
	}()

	if c.natsClient == nil {
		return fmt.Errorf("NATS client required")
	}

	subCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.startTime = time.Now()
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		cancel()
		return fmt.Errorf("get jetstream: %w", err)
	}

	units, err := storage.NewUnitStore(subCtx, js)
	if err != nil {
		cancel()
		return fmt.Errorf("create unit store: %w", err)
	}
	challenges, err := storage.NewChallengeStore(subCtx, js)
	if err != nil {
		cancel()
		return fmt.Errorf("create challenge store: %w", err)
	}
	reviews, err := review.NewStore(c.natsClient)
	if err != nil {
		cancel()
		return fmt.Errorf("create review store: %w", err)
	}

	c.storeMu.Lock()
	c.units = units
	c.challenges = challenges
	c.commits = storage.NewCommitLog(c.natsClient)
	c.pub = c.natsClient
	c.reviews = reviews
	c.storeMu.Unlock()

	stream, err := js.Stream(subCtx, c.config.StreamName)
	if err != nil {
		cancel()
		return fmt.Errorf("get stream %s: %w", c.config.StreamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
		Durable: c.config.ConsumerName,
		FilterSubjects: []string{
			"verify.events.>",
			storage.CommitSubjectPrefix + ">",
		},
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    30 * time.Second,
		MaxDeliver: 3,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	go c.consumeLoop(subCtx)

	c.state.Store(stateRunning)
	c.logger.Info("verify-api started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName)
	return nil
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	if !c.state.CompareAndSwap(stateRunning, stateStopping) {
		current := c.state.Load()
		if current == stateStopped || current == stateStopping {
			return nil
		}
		return fmt.Errorf("component in unexpected state: %d", current)
	}

	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.state.Store(stateStopped)
	c.logger.Info("verify-api stopped",
		"events_observed", c.eventsObserved.Load(),
		"parse_failures", c.parseFailures.Load())
	return nil
}

// consumeLoop tails engine events and commit records to drive metrics.
func (c *Component) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.consumer.Fetch(16, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.observe(msg.Subject(), msg.Data())
			if err := msg.Ack(); err != nil {
				c.logger.Warn("Failed to ack event", "error", err)
			}
		}
	}
}

// observe maps one stream message onto the metrics it moves. Metrics are
// cumulative over the consumer's durable position, so restarts resume
// rather than recount.
func (c *Component) observe(subject string, data []byte) {
	c.eventsObserved.Add(1)
	c.updateLastEvent()

	if strings.HasPrefix(subject, storage.CommitSubjectPrefix) {
		c.metrics.IncrementCommit()
		return
	}

	switch subject {
	case verify.UnitLeveled.Pattern:
		var event verify.UnitLeveledEvent
		if err := json.Unmarshal(data, &event); err != nil {
			c.noteParseFailure(subject, err)
			return
		}
		c.metrics.IncrementTransition(string(event.ToLevel))

	case verify.UnitDowngraded.Pattern:
		c.metrics.IncrementDowngrade()

	case verify.ChallengeRaised.Pattern:
		c.metrics.IncrementChallenge("raised")

	case verify.ChallengeResolved.Pattern:
		c.metrics.IncrementChallenge("resolved")

	case verify.BatchReady.Pattern:
		var event verify.BatchReadyEvent
		if err := json.Unmarshal(data, &event); err != nil {
			c.noteParseFailure(subject, err)
			return
		}
		c.metrics.SetBatchSize(len(event.UnitIDs))
	}
}

func (c *Component) noteParseFailure(subject string, err error) {
	c.parseFailures.Add(1)
	c.logger.Warn("Failed to parse event", "subject", subject, "error", err)
}

// Store accessors used by the HTTP handlers. Nil until Start succeeds.

func (c *Component) unitStore() unitDirectory {
	c.storeMu.RLock()
	defer c.storeMu.RUnlock()
	return c.units
}

func (c *Component) challengeStore() challengeDirectory {
	c.storeMu.RLock()
	defer c.storeMu.RUnlock()
	return c.challenges
}

func (c *Component) commitSrc() commitSource {
	c.storeMu.RLock()
	defer c.storeMu.RUnlock()
	return c.commits
}

func (c *Component) streamPub() streamPublisher {
	c.storeMu.RLock()
	defer c.storeMu.RUnlock()
	return c.pub
}

func (c *Component) archiver() pageArchiver {
	c.storeMu.RLock()
	defer c.storeMu.RUnlock()
	return c.snap
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "verify-api",
		Type:        "processor",
		Description: "HTTP API over verification state with prometheus metrics",
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
	return apiSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	state := c.state.Load()
	running := state == stateRunning

	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	switch state {
	case stateStarting:
		status = "starting"
	case stateRunning:
		status = "running"
	case stateStopping:
		status = "stopping"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.parseFailures.Load()),
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
		LastActivity:      c.getLastEvent(),
	}
}

func (c *Component) updateLastEvent() {
	c.lastEventMu.Lock()
	c.lastEvent = time.Now()
	c.lastEventMu.Unlock()
}

func (c *Component) getLastEvent() time.Time {
	c.lastEventMu.RLock()
	defer c.lastEventMu.RUnlock()
	return c.lastEvent
}

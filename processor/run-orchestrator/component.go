// Package runorchestrator provides the component that owns the
// verification engine. It consumes run triggers, dispatches ready units
// to workers batch by batch, assembles evidence bundles, and persists
// committed state to JetStream.
package runorchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/veriflow/artifact"
	"github.com/c360studio/veriflow/engine"
	"github.com/c360studio/veriflow/review"
	"github.com/c360studio/veriflow/storage"
	"github.com/c360studio/veriflow/verify"
	"github.com/c360studio/veriflow/worker"
)

// eventBufferSize bounds the engine event pump. The engine emits under
// its mutex, so the sink must never block.
const eventBufferSize = 256

// Component implements the run-orchestrator processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	// Engine and evidence state. runMu serializes runs and plan
	// reloads; the engine serializes its own state internally.
	runMu     sync.Mutex
	engine    *engine.Engine
	inspector *artifact.Inspector

	bundlesMu sync.Mutex
	bundles   map[string]verify.Bundle

	workersMu sync.RWMutex
	workers   map[verify.ArtifactKind]worker.Worker

	// Persistence
	units      *storage.UnitStore
	challenges *storage.ChallengeStore
	leases     *storage.LeaseStore
	commits    *storage.CommitLog
	reviews    *review.Store

	// Event pump
	events chan any

	// JetStream consumer
	consumer jetstream.Consumer

	// Execution semaphore for max_concurrent
	sem chan struct{}

	planWatcher *PlanWatcher

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	runsProcessed     atomic.Int64
	batchesDispatched atomic.Int64
	unitsCommitted    atomic.Int64
	attemptsFailed    atomic.Int64
	lastActivityMu    sync.RWMutex
	lastActivity      time.Time
}

// NewComponent creates a new run-orchestrator processor.
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
	if config.TriggerSubject == "" {
		config.TriggerSubject = defaults.TriggerSubject
	}
	if config.PlanPath == "" {
		config.PlanPath = defaults.PlanPath
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.LeaseTTL == "" {
		config.LeaseTTL = defaults.LeaseTTL
	}
	if config.AttemptTimeout == "" {
		config.AttemptTimeout = defaults.AttemptTimeout
	}
	if config.DebounceDelay == "" {
		config.DebounceDelay = defaults.DebounceDelay
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "run-orchestrator",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		inspector:  artifact.NewInspector(),
		bundles:    make(map[string]verify.Bundle),
		workers:    make(map[verify.ArtifactKind]worker.Worker),
		events:     make(chan any, eventBufferSize),
		sem:        make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// RegisterWorker wires a worker into the dispatch table. Each artifact
// kind has at most one worker; a later registration replaces an earlier
// one. Must be called before Start.
func (c *Component) RegisterWorker(w worker.Worker) {
	c.workersMu.Lock()
	defer c.workersMu.Unlock()
	c.workers[w.Kind()] = w
}

// workerFor returns the worker producing the given artifact kind.
func (c *Component) workerFor(kind verify.ArtifactKind) worker.Worker {
	c.workersMu.RLock()
	defer c.workersMu.RUnlock()
	return c.workers[kind]
}

// Initialize loads the verification plan and builds the engine.
func (c *Component) Initialize() error {
	plan, err := verify.LoadPlan(c.config.PlanPath)
	if err != nil {
		return fmt.Errorf("load plan %s: %w", c.config.PlanPath, err)
	}

	eng, err := engine.New(plan,
		engine.WithLogger(c.logger),
		engine.WithEventSink(c.sinkEvent),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	c.engine = eng

	for _, ce := range eng.CycleErrors() {
		c.logger.Warn("Plan contains dependency cycle",
			"layer", ce.Layer,
			"path", ce.Path)
	}

	c.logger.Info("Loaded verification plan",
		"path", c.config.PlanPath,
		"units", len(eng.Units()))
	return nil
}

// Start begins consuming run triggers.
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
	if c.engine == nil {
		c.mu.Unlock()
		return fmt.Errorf("engine not initialized")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	c.units, err = storage.NewUnitStore(subCtx, js)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create unit store: %w", err)
	}
	c.challenges, err = storage.NewChallengeStore(subCtx, js)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create challenge store: %w", err)
	}
	c.leases, err = storage.NewLeaseStore(subCtx, js)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create lease store: %w", err)
	}
	c.commits = storage.NewCommitLog(c.natsClient)

	c.reviews, err = review.NewStore(c.natsClient)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create review store: %w", err)
	}

	// Sign-off is poll-only; the gateway is always wired.
	c.RegisterWorker(worker.NewHumanGateway(c.reviews))

	stream, err := js.Stream(subCtx, c.config.StreamName)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.StreamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
		Durable: c.config.ConsumerName,
		FilterSubjects: []string{
			c.config.TriggerSubject,
			verify.SubjectChallengeRaise,
			verify.SubjectChallengeResolve,
		},
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    c.config.GetAttemptTimeout() + time.Minute,
		MaxDeliver: 3,
	})
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	// Persist the initial plan snapshot so the API serves units before
	// the first run.
	c.persistUnits(subCtx)

	go c.eventLoop(subCtx)
	go c.consumeLoop(subCtx)

	if c.config.WatchPlan {
		watcher, err := NewPlanWatcher(c.config.PlanPath, c.config.GetDebounceDelay(), c.logger)
		if err != nil {
			c.rollbackStart(cancel)
			return fmt.Errorf("create plan watcher: %w", err)
		}
		c.planWatcher = watcher
		if err := watcher.Start(subCtx); err != nil {
			c.rollbackStart(cancel)
			return fmt.Errorf("start plan watcher: %w", err)
		}
		go c.reloadLoop(subCtx)
	}

	c.logger.Info("run-orchestrator started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"subject", c.config.TriggerSubject,
		"max_concurrent", c.config.MaxConcurrent)

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// Engine exposes the engine for in-process consumers. The API component
// reads units, challenges, and the ledger through it.
func (c *Component) Engine() *engine.Engine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine
}

// Reviews exposes the review store backing the human gateway.
func (c *Component) Reviews() *review.Store {
	return c.reviews
}

// consumeLoop continuously consumes run triggers.
func (c *Component) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			switch msg.Subject() {
			case verify.SubjectChallengeRaise:
				c.handleChallengeRaise(ctx, msg)
			case verify.SubjectChallengeResolve:
				c.handleChallengeResolve(ctx, msg)
			default:
				c.handleRunTrigger(ctx, msg)
			}
		}

		if msgs.Error() != nil && !errors.Is(msgs.Error(), context.DeadlineExceeded) {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// handleRunTrigger drives one verification run to quiescence.
func (c *Component) handleRunTrigger(ctx context.Context, msg jetstream.Msg) {
	c.runsProcessed.Add(1)
	c.updateLastActivity()

	trigger, err := verify.ParseMessage[verify.RunTriggerPayload](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse run trigger", "error", err)
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK message", "error", err)
		}
		return
	}
	if err := trigger.Validate(); err != nil {
		c.logger.Error("Invalid run trigger", "error", err)
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
		return
	}

	runID := trigger.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()

	if trigger.PlanPath != "" && trigger.PlanPath != c.config.PlanPath {
		if err := c.rebuildEngine(trigger.PlanPath); err != nil {
			c.logger.Error("Failed to load run plan",
				"path", trigger.PlanPath,
				"error", err)
			if err := msg.Ack(); err != nil {
				c.logger.Warn("Failed to ACK message", "error", err)
			}
			return
		}
	}

	c.logger.Info("Verification run started",
		"run_id", runID,
		"max_batches", trigger.MaxBatches)

	summary := c.runToQuiescence(ctx, runID, trigger.MaxBatches)

	event := summary.Event()
	c.publishEvent(ctx, event)
	c.persistUnits(ctx)
	c.persistChallenges(ctx)
	if c.units != nil {
		if err := c.units.PutSummary(ctx, &event); err != nil {
			c.logger.Warn("Failed to persist run summary", "error", err)
		}
	}

	c.logger.Info("Verification run completed",
		"run_id", runID,
		"batches", summary.ElapsedBatches,
		"commits", summary.Commits,
		"blocked", len(summary.Blocked))

	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK message", "error", err)
	}
}

// handleChallengeRaise applies a challenge raise to the engine. The
// downgrade and the challenge entry land atomically inside the engine.
func (c *Component) handleChallengeRaise(ctx context.Context, msg jetstream.Msg) {
	c.updateLastActivity()

	payload, err := verify.ParseMessage[verify.ChallengeRaisePayload](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse challenge raise", "error", err)
		c.ack(msg)
		return
	}
	if err := payload.Validate(); err != nil {
		c.logger.Error("Invalid challenge raise", "error", err)
		c.ack(msg)
		return
	}

	ch := payload.Challenge
	eng := c.Engine()
	if err := eng.RaiseChallenge(&ch); err != nil {
		c.logger.Warn("Challenge refused",
			"challenge", ch.ID,
			"unit", ch.TargetUnit,
			"error", err)
		c.ack(msg)
		return
	}

	c.logger.Info("Challenge raised",
		"challenge", ch.ID,
		"unit", ch.TargetUnit,
		"severity", ch.Severity)

	if c.challenges != nil {
		if err := c.challenges.Put(ctx, &ch); err != nil {
			c.logger.Warn("Failed to persist challenge", "challenge", ch.ID, "error", err)
		}
	}
	if c.units != nil {
		if u, err := eng.Unit(ch.TargetUnit); err == nil {
			if err := c.units.Put(ctx, u); err != nil {
				c.logger.Warn("Failed to persist unit snapshot", "unit", u.ID, "error", err)
			}
		}
	}
	c.ack(msg)
}

// handleChallengeResolve closes a challenge. The unit stays at L0;
// resolution only clears the scheduling block.
func (c *Component) handleChallengeResolve(ctx context.Context, msg jetstream.Msg) {
	c.updateLastActivity()

	payload, err := verify.ParseMessage[verify.ChallengeResolvePayload](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse challenge resolve", "error", err)
		c.ack(msg)
		return
	}
	if err := payload.Validate(); err != nil {
		c.logger.Error("Invalid challenge resolve", "error", err)
		c.ack(msg)
		return
	}

	eng := c.Engine()
	if err := eng.ResolveChallenge(payload.ChallengeID, payload.Status, payload.Resolution); err != nil {
		c.logger.Warn("Challenge resolution refused",
			"challenge", payload.ChallengeID,
			"error", err)
		c.ack(msg)
		return
	}

	c.logger.Info("Challenge resolved",
		"challenge", payload.ChallengeID,
		"status", payload.Status)

	ch, err := eng.Challenge(payload.ChallengeID)
	if err == nil {
		if c.challenges != nil {
			if err := c.challenges.Put(ctx, ch); err != nil {
				c.logger.Warn("Failed to persist challenge", "challenge", ch.ID, "error", err)
			}
		}
		if c.units != nil {
			if u, err := eng.Unit(ch.TargetUnit); err == nil {
				if err := c.units.Put(ctx, u); err != nil {
					c.logger.Warn("Failed to persist unit snapshot", "unit", u.ID, "error", err)
				}
			}
		}
	}
	c.ack(msg)
}

func (c *Component) ack(msg jetstream.Msg) {
	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK message", "error", err)
	}
}

// runToQuiescence dispatches batches until nothing is ready or no batch
// makes progress. A batch with zero commits means every remaining unit
// is blocked, unclaimable, or waiting on a human decision; looping again
// would attempt identical work.
func (c *Component) runToQuiescence(ctx context.Context, runID string, maxBatches int) *engine.RunSummary {
	eng := c.Engine()

	for batch := 0; maxBatches == 0 || batch < maxBatches; batch++ {
		if ctx.Err() != nil {
			break
		}

		c.sweepExpiredLeases(ctx, eng)

		batchNo, ids := eng.NextBatch()
		if len(ids) == 0 {
			break
		}
		c.batchesDispatched.Add(1)
		c.publishEvent(ctx, verify.BatchReadyEvent{BatchNo: batchNo, UnitIDs: ids})

		var wg sync.WaitGroup
		var committed atomic.Int64
		for _, id := range ids {
			select {
			case c.sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return eng.Summary(runID)
			}
			wg.Add(1)
			go func(unitID string) {
				defer wg.Done()
				defer func() { <-c.sem }()
				if c.attemptUnit(ctx, eng, unitID) {
					committed.Add(1)
				}
			}(id)
		}
		wg.Wait()

		if committed.Load() == 0 {
			c.logger.Debug("Batch made no progress, run quiescent",
				"run_id", runID,
				"batch", batchNo)
			break
		}
	}

	return eng.Summary(runID)
}

// attemptUnit claims a unit, runs the worker for its next rung, and
// commits the accumulated evidence. Returns true when a commit landed.
func (c *Component) attemptUnit(ctx context.Context, eng *engine.Engine, unitID string) bool {
	u, err := eng.Unit(unitID)
	if err != nil {
		c.logger.Warn("Ready unit vanished", "unit", unitID, "error", err)
		return false
	}

	next, ok := u.Level.Next()
	if !ok {
		return false
	}
	kind, ok := worker.ForLevel(next)
	if !ok {
		return false
	}
	w := c.workerFor(kind)
	if w == nil {
		c.logger.Debug("No worker for artifact kind",
			"unit", unitID,
			"kind", kind)
		return false
	}

	lease, err := eng.Claim(unitID, c.name, c.config.GetLeaseTTL())
	if err != nil {
		if errors.Is(err, verify.ErrLeaseConflict) {
			return false
		}
		c.logger.Debug("Claim refused", "unit", unitID, "error", err)
		return false
	}
	c.mirrorLease(ctx, lease)
	defer c.dropLeaseMirror(ctx, unitID)

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.GetAttemptTimeout())
	defer cancel()

	art, err := w.Attempt(attemptCtx, u)
	if err != nil {
		eng.Release(lease.Token)
		if errors.Is(err, worker.ErrDecisionPending) {
			c.logger.Debug("Unit awaiting human decision", "unit", unitID)
			return false
		}
		c.attemptsFailed.Add(1)
		c.logger.Warn("Worker attempt failed",
			"unit", unitID,
			"kind", kind,
			"error", err)
		c.reportVerdict(unitID, lease.Token, next, kind, verify.Artifact{}, err)
		return false
	}

	bundle := c.accumulate(unitID, art)

	if err := c.inspector.Check(ctx, u, bundle); err != nil {
		eng.Release(lease.Token)
		c.attemptsFailed.Add(1)
		c.logger.Warn("Artifact structure check failed",
			"unit", unitID,
			"error", err)
		c.reportVerdict(unitID, lease.Token, next, kind, verify.Artifact{}, err)
		return false
	}

	rec, err := eng.Commit(lease.Token, next, bundle)
	if err != nil {
		eng.Release(lease.Token)
		c.attemptsFailed.Add(1)
		c.logger.Warn("Commit refused",
			"unit", unitID,
			"to", next,
			"error", err)
		c.reportVerdict(unitID, lease.Token, next, kind, art, err)
		return false
	}

	c.reportVerdict(unitID, lease.Token, next, kind, art, nil)
	c.unitsCommitted.Add(1)
	c.updateLastActivity()

	if c.commits != nil {
		if err := c.commits.Publish(ctx, rec); err != nil {
			c.logger.Error("Failed to publish commit record",
				"unit", unitID,
				"sequence", rec.SequenceNo,
				"error", err)
		}
	}
	if c.units != nil {
		if fresh, err := eng.Unit(unitID); err == nil {
			if err := c.units.Put(ctx, fresh); err != nil {
				c.logger.Warn("Failed to persist unit snapshot",
					"unit", unitID,
					"error", err)
			}
		}
	}
	return true
}

// reportVerdict feeds the attempt outcome into the event pump. Accepted
// attempts carry the produced artifact; refusals carry the failing cases
// when the commit error names them. Verdicts are reports, never state.
func (c *Component) reportVerdict(unitID, lease string, target verify.Level, kind verify.ArtifactKind, art verify.Artifact, attemptErr error) {
	v := &verify.VerdictPayload{
		UnitID:      unitID,
		Lease:       lease,
		TargetLevel: target,
		Passed:      attemptErr == nil,
		WorkerKind:  string(kind),
	}
	if attemptErr == nil {
		v.Artifact = json.RawMessage(art.Data)
	} else {
		var mismatch *verify.OracleMismatchError
		var attack *verify.AdversarialFailureError
		switch {
		case errors.As(attemptErr, &mismatch):
			v.Failing = mismatch.Failing
		case errors.As(attemptErr, &attack):
			v.Failing = attack.Failing
		}
	}
	c.sinkEvent(v)
}

// accumulate merges an artifact into the unit's evidence bundle,
// replacing any earlier artifact of the same kind. Bundles build up
// across rungs so a later commit still carries the earlier evidence.
func (c *Component) accumulate(unitID string, art verify.Artifact) verify.Bundle {
	c.bundlesMu.Lock()
	defer c.bundlesMu.Unlock()

	bundle := c.bundles[unitID]
	replaced := false
	for i := range bundle {
		if bundle[i].Kind == art.Kind {
			bundle[i] = art
			replaced = true
			break
		}
	}
	if !replaced {
		bundle = append(bundle, art)
	}
	c.bundles[unitID] = bundle

	out := make(verify.Bundle, len(bundle))
	copy(out, bundle)
	return out
}

// resetBundle discards accumulated evidence. Called on downgrade: a
// challenged unit re-earns its bundle from scratch.
func (c *Component) resetBundle(unitID string) {
	c.bundlesMu.Lock()
	defer c.bundlesMu.Unlock()
	delete(c.bundles, unitID)
}

// sweepExpiredLeases reclaims engine leases past deadline and clears
// their bucket mirrors.
func (c *Component) sweepExpiredLeases(ctx context.Context, eng *engine.Engine) {
	for _, lease := range eng.ExpireLeases() {
		c.dropLeaseMirror(ctx, lease.UnitID)
		c.publishEvent(ctx, verify.LeaseExpiredEvent{
			UnitID:    lease.UnitID,
			Token:     lease.Token,
			Owner:     lease.Owner,
			ExpiredAt: lease.ExpiresAt,
		})
	}
}

func (c *Component) mirrorLease(ctx context.Context, lease *engine.Lease) {
	if c.leases == nil {
		return
	}
	rec := &storage.LeaseRecord{
		Token:     lease.Token,
		UnitID:    lease.UnitID,
		Owner:     lease.Owner,
		ClaimedAt: lease.ClaimedAt,
		ExpiresAt: lease.ExpiresAt,
	}
	if err := c.leases.Put(ctx, rec); err != nil {
		c.logger.Debug("Failed to mirror lease", "unit", lease.UnitID, "error", err)
	}
}

func (c *Component) dropLeaseMirror(ctx context.Context, unitID string) {
	if c.leases == nil {
		return
	}
	if err := c.leases.Delete(ctx, unitID); err != nil {
		c.logger.Debug("Failed to drop lease mirror", "unit", unitID, "error", err)
	}
}

// persistUnits writes every unit snapshot to the units bucket.
func (c *Component) persistUnits(ctx context.Context) {
	eng := c.Engine()
	if eng == nil || c.units == nil {
		return
	}
	for _, u := range eng.Units() {
		if err := c.units.Put(ctx, u); err != nil {
			c.logger.Warn("Failed to persist unit snapshot",
				"unit", u.ID,
				"error", err)
		}
	}
}

// persistChallenges writes every challenge record to its bucket.
func (c *Component) persistChallenges(ctx context.Context) {
	eng := c.Engine()
	if eng == nil || c.challenges == nil {
		return
	}
	for _, ch := range eng.Challenges("") {
		if err := c.challenges.Put(ctx, ch); err != nil {
			c.logger.Warn("Failed to persist challenge",
				"challenge", ch.ID,
				"error", err)
		}
	}
}

// sinkEvent receives engine events. Runs under the engine mutex, so it
// only hands off to the pump.
func (c *Component) sinkEvent(event any) {
	select {
	case c.events <- event:
	default:
		c.logger.Warn("Event buffer full, dropping engine event")
	}
}

// eventLoop publishes engine events and reacts to downgrades.
func (c *Component) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.events:
			if down, ok := event.(verify.UnitDowngradedEvent); ok {
				c.resetBundle(down.UnitID)
			}
			c.publishEvent(ctx, event)
		}
	}
}

// publishEvent routes a domain event to its typed subject.
func (c *Component) publishEvent(ctx context.Context, event any) {
	var subject string
	switch e := event.(type) {
	case *verify.VerdictPayload:
		subject = verify.VerdictSubject(e.UnitID)
	case verify.UnitLeveledEvent:
		subject = verify.UnitLeveled.Pattern
	case verify.UnitDowngradedEvent:
		subject = verify.UnitDowngraded.Pattern
	case verify.ChallengeRaisedEvent:
		subject = verify.ChallengeRaised.Pattern
	case verify.ChallengeResolvedEvent:
		subject = verify.ChallengeResolved.Pattern
	case verify.LeaseExpiredEvent:
		subject = verify.LeaseExpired.Pattern
	case verify.BatchReadyEvent:
		subject = verify.BatchReady.Pattern
	case verify.RunCompletedEvent:
		subject = verify.RunCompleted.Pattern
	default:
		c.logger.Debug("Unroutable engine event", "type", fmt.Sprintf("%T", event))
		return
	}

	if c.natsClient == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		c.logger.Warn("Failed to marshal event", "subject", subject, "error", err)
		return
	}
	if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
		c.logger.Warn("Failed to publish event", "subject", subject, "error", err)
	}
}

// reloadLoop applies debounced plan file changes between runs.
func (c *Component) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-c.planWatcher.Changes():
			if !ok {
				return
			}
			c.runMu.Lock()
			if err := c.rebuildEngine(c.config.PlanPath); err != nil {
				c.logger.Error("Plan reload failed",
					"path", c.config.PlanPath,
					"error", err)
			} else {
				c.persistUnits(ctx)
				c.logger.Info("Plan reloaded", "path", c.config.PlanPath)
			}
			c.runMu.Unlock()
		}
	}
}

// rebuildEngine swaps in a fresh engine for a new plan. Accumulated
// bundles belong to the old plan and are discarded. Caller holds runMu.
func (c *Component) rebuildEngine(path string) error {
	plan, err := verify.LoadPlan(path)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	eng, err := engine.New(plan,
		engine.WithLogger(c.logger),
		engine.WithEventSink(c.sinkEvent),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	c.mu.Lock()
	c.engine = eng
	c.mu.Unlock()

	c.bundlesMu.Lock()
	c.bundles = make(map[string]verify.Bundle)
	c.bundlesMu.Unlock()
	return nil
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	if c.planWatcher != nil {
		if err := c.planWatcher.Stop(); err != nil {
			c.logger.Warn("Failed to stop plan watcher", "error", err)
		}
	}
	if c.cancel != nil {
		c.cancel()
	}

	c.running = false
	c.logger.Info("run-orchestrator stopped",
		"runs_processed", c.runsProcessed.Load(),
		"batches_dispatched", c.batchesDispatched.Load(),
		"units_committed", c.unitsCommitted.Load(),
		"attempts_failed", c.attemptsFailed.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "run-orchestrator",
		Type:        "processor",
		Description: "Owns the verification engine and dispatches ready units to workers",
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
	return orchestratorSchema
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
		ErrorCount: int(c.attemptsFailed.Load()),
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
		LastActivity:      c.getLastActivity(),
	}
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}

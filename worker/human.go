package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360studio/veriflow/review"
	"github.com/c360studio/veriflow/verify"
)

// HumanGateway produces the human-sign-off artifact behind an L3→L4
// transition by routing the decision through the review queue. The first
// attempt submits the request and reports ErrDecisionPending; later
// attempts poll for the resolution without blocking.
type HumanGateway struct {
	// Queue is the review queue decisions flow through.
	Queue review.Queue

	mu      sync.Mutex
	pending map[string]string // unit id -> queue item id
	decided map[string]review.Resolution
	cursor  uint64
}

// NewHumanGateway creates a gateway over a review queue.
func NewHumanGateway(queue review.Queue) *HumanGateway {
	return &HumanGateway{
		Queue:   queue,
		pending: make(map[string]string),
		decided: make(map[string]review.Resolution),
	}
}

// Kind returns the artifact kind this worker produces.
func (g *HumanGateway) Kind() verify.ArtifactKind {
	return verify.ArtifactHumanSignOff
}

// Attempt submits or polls the sign-off request for a unit. Until a
// human decides, it returns ErrDecisionPending. A reject decision still
// yields an artifact; the commit path refuses it.
func (g *HumanGateway) Attempt(ctx context.Context, unit *verify.Unit) (verify.Artifact, error) {
	g.mu.Lock()
	itemID, submitted := g.pending[unit.ID]
	g.mu.Unlock()

	if !submitted {
		question := fmt.Sprintf("Promote %s to proven? All automated evidence is in place.", unit.ID)
		id, err := g.Queue.Submit(ctx, unit.ID, question, []string{verify.DecisionApprove, verify.DecisionReject})
		if err != nil {
			return verify.Artifact{}, fmt.Errorf("submit sign-off request for %s: %w", unit.ID, err)
		}
		g.mu.Lock()
		g.pending[unit.ID] = id
		g.mu.Unlock()
		return verify.Artifact{}, fmt.Errorf("%w: %s awaiting item %s", ErrDecisionPending, unit.ID, id)
	}

	if err := g.poll(ctx); err != nil {
		return verify.Artifact{}, err
	}

	g.mu.Lock()
	resolution, ok := g.decided[itemID]
	if ok {
		delete(g.decided, itemID)
		delete(g.pending, unit.ID)
	}
	g.mu.Unlock()

	if !ok {
		return verify.Artifact{}, fmt.Errorf("%w: %s awaiting item %s", ErrDecisionPending, unit.ID, itemID)
	}

	signOff := verify.HumanSignOff{
		UnitID:      unit.ID,
		QueueItemID: resolution.ItemID,
		Decision:    resolution.Decision,
		DecidedBy:   resolution.DecidedBy,
		DecidedAt:   resolution.DecidedAt,
	}
	return verify.EncodeArtifact(verify.ArtifactHumanSignOff, signOff)
}

// poll advances the gateway's cursor over resolved queue items.
func (g *HumanGateway) poll(ctx context.Context) error {
	g.mu.Lock()
	since := g.cursor
	g.mu.Unlock()

	resolutions, err := g.Queue.PollResolved(ctx, since)
	if err != nil {
		return fmt.Errorf("poll review queue: %w", err)
	}

	g.mu.Lock()
	for _, r := range resolutions {
		g.decided[r.ItemID] = r
		if r.Cursor > g.cursor {
			g.cursor = r.Cursor
		}
	}
	g.mu.Unlock()
	return nil
}

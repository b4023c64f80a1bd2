package review

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemQueue is an in-process review queue. It backs tests and single-node
// runs where no NATS bucket is available.
type MemQueue struct {
	mu     sync.Mutex
	items  map[string]*Item
	cursor uint64
}

// NewMemQueue creates an empty in-memory queue.
func NewMemQueue() *MemQueue {
	return &MemQueue{items: make(map[string]*Item)}
}

// Submit enqueues a pending decision request.
func (q *MemQueue) Submit(ctx context.Context, unitID, question string, options []string) (string, error) {
	item := NewItem(unitID, question, options)
	if err := item.Validate(); err != nil {
		return "", fmt.Errorf("invalid review item: %w", err)
	}

	q.mu.Lock()
	q.items[item.ID] = item
	q.mu.Unlock()
	return item.ID, nil
}

// Get retrieves one item.
func (q *MemQueue) Get(ctx context.Context, id string) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	clone := *item
	return &clone, nil
}

// List retrieves items, optionally filtered by status, oldest first.
func (q *MemQueue) List(ctx context.Context, status ItemStatus) ([]*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]*Item, 0, len(q.items))
	for _, item := range q.items {
		if status != "" && item.Status != status {
			continue
		}
		clone := *item
		items = append(items, &clone)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// Decide records a human decision on a pending item.
func (q *MemQueue) Decide(ctx context.Context, id, decision, decidedBy string) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if item.Status != ItemStatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, id, item.Status)
	}
	if !item.AllowsDecision(decision) {
		return nil, fmt.Errorf("decision %q not among options %v", decision, item.Options)
	}

	now := time.Now().UTC()
	q.cursor++
	item.Status = ItemStatusResolved
	item.Decision = decision
	item.DecidedBy = decidedBy
	item.DecidedAt = &now
	item.Cursor = q.cursor

	clone := *item
	return &clone, nil
}

// PollResolved returns decisions past the given cursor, in cursor order.
func (q *MemQueue) PollResolved(ctx context.Context, sinceCursor uint64) ([]Resolution, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Resolution
	for _, item := range q.items {
		if item.Status != ItemStatusResolved || item.Cursor <= sinceCursor {
			continue
		}
		decidedAt := time.Time{}
		if item.DecidedAt != nil {
			decidedAt = *item.DecidedAt
		}
		out = append(out, Resolution{
			ItemID:    item.ID,
			UnitID:    item.UnitID,
			Decision:  item.Decision,
			DecidedBy: item.DecidedBy,
			Cursor:    item.Cursor,
			DecidedAt: decidedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cursor < out[j].Cursor })
	return out, nil
}

package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"
)

// ReviewBucket is the KV bucket holding queue items.
const ReviewBucket = "VF_REVIEW"

// ErrItemNotFound means the queue item does not exist.
var ErrItemNotFound = errors.New("review item not found")

// ErrAlreadyDecided rejects a second decision on the same item.
var ErrAlreadyDecided = errors.New("review item already decided")

// Store is the durable review queue over NATS JetStream KV. Items expire
// with the bucket TTL; decisions are ordered by a store-local cursor so
// pollers can resume from where they left off.
type Store struct {
	bucket jetstream.KeyValue
	cursor atomic.Uint64
}

// NewStore creates the review queue store, creating the bucket when
// absent. Items live for thirty days.
func NewStore(nc *natsclient.Client) (*Store, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}

	ctx := context.Background()
	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      ReviewBucket,
		Description: "Human review queue for verification decisions",
		TTL:         30 * 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update kv bucket: %w", err)
	}

	s := &Store{bucket: bucket}
	if err := s.restoreCursor(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// restoreCursor scans existing items so a restarted store continues the
// cursor sequence instead of reusing positions.
func (s *Store) restoreCursor(ctx context.Context) error {
	items, err := s.List(ctx, "")
	if err != nil {
		return fmt.Errorf("restore cursor: %w", err)
	}
	var max uint64
	for _, item := range items {
		if item.Cursor > max {
			max = item.Cursor
		}
	}
	s.cursor.Store(max)
	return nil
}

// Submit enqueues a pending decision request. Non-blocking: the engine
// never waits here for the human.
func (s *Store) Submit(ctx context.Context, unitID, question string, options []string) (string, error) {
	item := NewItem(unitID, question, options)
	if err := item.Validate(); err != nil {
		return "", fmt.Errorf("invalid review item: %w", err)
	}
	if err := s.put(ctx, item); err != nil {
		return "", err
	}
	return item.ID, nil
}

// Get retrieves one item.
func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	entry, err := s.bucket.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
		}
		return nil, fmt.Errorf("get review item: %w", err)
	}

	var item Item
	if err := json.Unmarshal(entry.Value(), &item); err != nil {
		return nil, fmt.Errorf("unmarshal review item: %w", err)
	}
	return &item, nil
}

// List retrieves items, optionally filtered by status.
func (s *Store) List(ctx context.Context, status ItemStatus) ([]*Item, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []*Item{}, nil
		}
		return nil, fmt.Errorf("list review keys: %w", err)
	}

	var items []*Item
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			continue
		}
		var item Item
		if err := json.Unmarshal(entry.Value(), &item); err != nil {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		items = append(items, &item)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// Decide records a human decision on a pending item and assigns its
// resolution cursor.
func (s *Store) Decide(ctx context.Context, id, decision, decidedBy string) (*Item, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != ItemStatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, id, item.Status)
	}
	if !item.AllowsDecision(decision) {
		return nil, fmt.Errorf("decision %q not among options %v", decision, item.Options)
	}

	now := time.Now().UTC()
	item.Status = ItemStatusResolved
	item.Decision = decision
	item.DecidedBy = decidedBy
	item.DecidedAt = &now
	item.Cursor = s.cursor.Add(1)

	if err := s.put(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// PollResolved returns decisions past the given cursor, in cursor order.
func (s *Store) PollResolved(ctx context.Context, sinceCursor uint64) ([]Resolution, error) {
	items, err := s.List(ctx, ItemStatusResolved)
	if err != nil {
		return nil, err
	}

	var out []Resolution
	for _, item := range items {
		if item.Cursor <= sinceCursor {
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

// Bucket exposes the underlying KV bucket for SSE watchers.
func (s *Store) Bucket() jetstream.KeyValue {
	return s.bucket
}

func (s *Store) put(ctx context.Context, item *Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal review item: %w", err)
	}
	if _, err := s.bucket.Put(ctx, item.ID, data); err != nil {
		return fmt.Errorf("put review item: %w", err)
	}
	return nil
}

// Package storage provides durable state for verification runs using
// NATS JetStream: KV buckets for unit and challenge snapshots, and the
// VERIFY stream as the commit log.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/c360studio/veriflow/verify"
	"github.com/nats-io/nats.go/jetstream"
)

// Bucket names for verification state.
const (
	BucketUnits      = "VF_UNITS"
	BucketChallenges = "VF_CHALLENGES"
)

// UnitStore persists unit snapshots. The engine remains the source of
// truth during a run; snapshots let observers and restarts see the last
// known state without replaying the commit log.
type UnitStore struct {
	bucket jetstream.KeyValue
}

// NewUnitStore creates the unit snapshot store, creating the bucket if
// it doesn't exist.
func NewUnitStore(ctx context.Context, js jetstream.JetStream) (*UnitStore, error) {
	bucket, err := getOrCreateBucket(ctx, js, BucketUnits, "Verification unit snapshots")
	if err != nil {
		return nil, fmt.Errorf("create units bucket: %w", err)
	}
	return &UnitStore{bucket: bucket}, nil
}

func unitKey(id string) string {
	return "unit." + id
}

// Put stores a unit snapshot.
func (s *UnitStore) Put(ctx context.Context, u *verify.Unit) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal unit: %w", err)
	}
	if _, err := s.bucket.Put(ctx, unitKey(u.ID), data); err != nil {
		return fmt.Errorf("store unit %s: %w", u.ID, err)
	}
	return nil
}

// Get retrieves a unit snapshot by id.
func (s *UnitStore) Get(ctx context.Context, id string) (*verify.Unit, error) {
	entry, err := s.bucket.Get(ctx, unitKey(id))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: unit %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get unit %s: %w", id, err)
	}

	var u verify.Unit
	if err := json.Unmarshal(entry.Value(), &u); err != nil {
		return nil, fmt.Errorf("unmarshal unit %s: %w", id, err)
	}
	return &u, nil
}

// List returns all stored unit snapshots sorted by id.
func (s *UnitStore) List(ctx context.Context) ([]*verify.Unit, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []*verify.Unit{}, nil
		}
		return nil, fmt.Errorf("list unit keys: %w", err)
	}

	units := make([]*verify.Unit, 0, len(keys))
	for _, key := range keys {
		if !strings.HasPrefix(key, "unit.") {
			continue
		}
		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			continue
		}
		var u verify.Unit
		if err := json.Unmarshal(entry.Value(), &u); err != nil {
			continue
		}
		units = append(units, &u)
	}

	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	return units, nil
}

// summaryKey holds the latest run summary. A single key is enough; the
// bucket keeps history for recent runs.
const summaryKey = "summary.latest"

// PutSummary stores the latest run summary.
func (s *UnitStore) PutSummary(ctx context.Context, summary *verify.RunCompletedEvent) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if _, err := s.bucket.Put(ctx, summaryKey, data); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	return nil
}

// GetSummary retrieves the latest run summary.
func (s *UnitStore) GetSummary(ctx context.Context) (*verify.RunCompletedEvent, error) {
	entry, err := s.bucket.Get(ctx, summaryKey)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: run summary", ErrNotFound)
		}
		return nil, fmt.Errorf("get summary: %w", err)
	}
	var summary verify.RunCompletedEvent
	if err := json.Unmarshal(entry.Value(), &summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	return &summary, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name, description string) (jetstream.KeyValue, error) {
	return js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: description,
		History:     5,
	})
}

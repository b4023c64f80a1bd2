package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// BucketLeases holds active unit leases, keyed "lease.<unit_id>". The
// engine's in-memory lease table is authoritative during a run; the
// bucket mirrors it so the lease monitor and observers see claims
// without engine access.
const BucketLeases = "VF_LEASES"

// LeaseRecord mirrors one active claim.
type LeaseRecord struct {
	Token     string    `json:"token"`
	UnitID    string    `json:"unit_id"`
	Owner     string    `json:"owner"`
	ClaimedAt time.Time `json:"claimed_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lease is past its deadline.
func (r *LeaseRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// LeaseStore persists lease mirrors.
type LeaseStore struct {
	bucket jetstream.KeyValue
}

// NewLeaseStore creates the lease store, creating the bucket if it
// doesn't exist.
func NewLeaseStore(ctx context.Context, js jetstream.JetStream) (*LeaseStore, error) {
	bucket, err := getOrCreateBucket(ctx, js, BucketLeases, "Active verification unit leases")
	if err != nil {
		return nil, fmt.Errorf("create leases bucket: %w", err)
	}
	return &LeaseStore{bucket: bucket}, nil
}

func leaseKey(unitID string) string {
	return "lease." + unitID
}

// Put mirrors a granted lease.
func (s *LeaseStore) Put(ctx context.Context, r *LeaseRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal lease: %w", err)
	}
	if _, err := s.bucket.Put(ctx, leaseKey(r.UnitID), data); err != nil {
		return fmt.Errorf("store lease for %s: %w", r.UnitID, err)
	}
	return nil
}

// Delete removes a released or expired lease mirror.
func (s *LeaseStore) Delete(ctx context.Context, unitID string) error {
	if err := s.bucket.Delete(ctx, leaseKey(unitID)); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("delete lease for %s: %w", unitID, err)
	}
	return nil
}

// List returns all mirrored leases sorted by unit id.
func (s *LeaseStore) List(ctx context.Context) ([]*LeaseRecord, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []*LeaseRecord{}, nil
		}
		return nil, fmt.Errorf("list lease keys: %w", err)
	}

	leases := make([]*LeaseRecord, 0, len(keys))
	for _, key := range keys {
		if !strings.HasPrefix(key, "lease.") {
			continue
		}
		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			continue
		}
		var r LeaseRecord
		if err := json.Unmarshal(entry.Value(), &r); err != nil {
			continue
		}
		leases = append(leases, &r)
	}

	sort.Slice(leases, func(i, j int) bool { return leases[i].UnitID < leases[j].UnitID })
	return leases, nil
}

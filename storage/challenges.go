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

// ChallengeStore persists challenge records keyed "challenge.<id>".
type ChallengeStore struct {
	bucket jetstream.KeyValue
}

// NewChallengeStore creates the challenge store, creating the bucket if
// it doesn't exist.
func NewChallengeStore(ctx context.Context, js jetstream.JetStream) (*ChallengeStore, error) {
	bucket, err := getOrCreateBucket(ctx, js, BucketChallenges, "Verification challenge records")
	if err != nil {
		return nil, fmt.Errorf("create challenges bucket: %w", err)
	}
	return &ChallengeStore{bucket: bucket}, nil
}

func challengeKey(id string) string {
	return "challenge." + id
}

// Put stores a challenge record.
func (s *ChallengeStore) Put(ctx context.Context, c *verify.Challenge) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	if _, err := s.bucket.Put(ctx, challengeKey(c.ID), data); err != nil {
		return fmt.Errorf("store challenge %s: %w", c.ID, err)
	}
	return nil
}

// Get retrieves a challenge by id.
func (s *ChallengeStore) Get(ctx context.Context, id string) (*verify.Challenge, error) {
	entry, err := s.bucket.Get(ctx, challengeKey(id))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: challenge %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get challenge %s: %w", id, err)
	}

	var c verify.Challenge
	if err := json.Unmarshal(entry.Value(), &c); err != nil {
		return nil, fmt.Errorf("unmarshal challenge %s: %w", id, err)
	}
	return &c, nil
}

// List returns stored challenges, optionally filtered by status, newest
// first.
func (s *ChallengeStore) List(ctx context.Context, status verify.ChallengeStatus) ([]*verify.Challenge, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []*verify.Challenge{}, nil
		}
		return nil, fmt.Errorf("list challenge keys: %w", err)
	}

	challenges := make([]*verify.Challenge, 0, len(keys))
	for _, key := range keys {
		if !strings.HasPrefix(key, "challenge.") {
			continue
		}
		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			continue
		}
		var c verify.Challenge
		if err := json.Unmarshal(entry.Value(), &c); err != nil {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		challenges = append(challenges, &c)
	}

	sort.Slice(challenges, func(i, j int) bool {
		return challenges[i].CreatedAt.After(challenges[j].CreatedAt)
	})
	return challenges, nil
}

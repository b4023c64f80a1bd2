package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"
)

// KnowledgeBucket is the KV bucket holding durable domain facts.
const KnowledgeBucket = "VF_KNOWLEDGE"

// KVStore is the durable fact store over NATS JetStream KV. Revisions
// come from the bucket itself; the read audit log is kept in memory per
// process and mirrored to the structured log.
type KVStore struct {
	bucket jetstream.KeyValue
	logger *slog.Logger

	mu    sync.Mutex
	reads []ReadRecord
}

// NewKVStore creates the fact store, creating the bucket when absent.
func NewKVStore(nc *natsclient.Client, logger *slog.Logger) (*KVStore, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}

	bucket, err := js.CreateOrUpdateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket:      KnowledgeBucket,
		Description: "Versioned verification domain facts",
		History:     10,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update kv bucket: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &KVStore{bucket: bucket, logger: logger}, nil
}

// Get returns the current fact and appends a read record.
func (s *KVStore) Get(ctx context.Context, key, reader string) (*Fact, error) {
	entry, err := s.bucket.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrFactNotFound, key)
		}
		return nil, fmt.Errorf("get fact: %w", err)
	}

	var fact Fact
	if err := json.Unmarshal(entry.Value(), &fact); err != nil {
		return nil, fmt.Errorf("unmarshal fact %s: %w", key, err)
	}
	fact.Revision = entry.Revision()

	s.mu.Lock()
	s.reads = append(s.reads, ReadRecord{
		Key:      key,
		Revision: fact.Revision,
		Reader:   reader,
		ReadAt:   time.Now().UTC(),
	})
	s.mu.Unlock()
	s.logger.Debug("fact consulted",
		"key", key,
		"revision", fact.Revision,
		"reader", reader)

	return &fact, nil
}

// Put writes a fact; the bucket revision becomes the fact revision.
func (s *KVStore) Put(ctx context.Context, key string, value any, source string) (*Fact, error) {
	if key == "" {
		return nil, errors.New("fact key is required")
	}

	fact := Fact{
		Key:      key,
		Value:    value,
		Source:   source,
		StoredAt: time.Now().UTC(),
	}
	data, err := json.Marshal(&fact)
	if err != nil {
		return nil, fmt.Errorf("marshal fact: %w", err)
	}

	rev, err := s.bucket.Put(ctx, key, data)
	if err != nil {
		return nil, fmt.Errorf("put fact: %w", err)
	}
	fact.Revision = rev
	return &fact, nil
}

// Keys returns all known keys, sorted.
func (s *KVStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list fact keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Reads returns a copy of this process's audit log.
func (s *KVStore) Reads(_ context.Context) ([]ReadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ReadRecord, len(s.reads))
	copy(out, s.reads)
	return out, nil
}

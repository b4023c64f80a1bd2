// Package knowledge holds the accumulated domain facts consulted during
// verification: equivalence tolerances, attack parameters, approved
// deviation bounds. Facts are versioned, passed by reference to whichever
// component needs them, and never ambient global state; every read is
// logged with the consulted key so the audit trail shows which facts
// informed which decision.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrFactNotFound means the key has never been written.
var ErrFactNotFound = errors.New("fact not found")

// Fact is one versioned domain fact.
type Fact struct {
	Key      string    `json:"key"`
	Value    any       `json:"value"`
	Revision uint64    `json:"revision"`
	Source   string    `json:"source,omitempty"`
	StoredAt time.Time `json:"stored_at"`
}

// ReadRecord is one audit-log entry: who consulted which fact at which
// revision.
type ReadRecord struct {
	Key      string    `json:"key"`
	Revision uint64    `json:"revision"`
	Reader   string    `json:"reader"`
	ReadAt   time.Time `json:"read_at"`
}

// Store is the fact store contract. Reads carry a reader identity for the
// audit log.
type Store interface {
	// Get returns the current fact for a key.
	Get(ctx context.Context, key, reader string) (*Fact, error)

	// Put writes a fact, bumping its revision, and returns the stored
	// form.
	Put(ctx context.Context, key string, value any, source string) (*Fact, error)

	// Keys returns all known keys, sorted.
	Keys(ctx context.Context) ([]string, error)

	// Reads returns the audit log of fact consultations, oldest first.
	Reads(ctx context.Context) ([]ReadRecord, error)
}

// MemStore is the in-process fact store used by the engine and by tests.
// All methods are safe for concurrent use.
type MemStore struct {
	mu     sync.Mutex
	facts  map[string]*Fact
	reads  []ReadRecord
	clock  func() time.Time
	logger *slog.Logger
}

// MemOption configures a MemStore.
type MemOption func(*MemStore)

// WithClock injects the time source.
func WithClock(clock func() time.Time) MemOption {
	return func(s *MemStore) { s.clock = clock }
}

// WithLogger injects the structured logger used for read logging.
func WithLogger(logger *slog.Logger) MemOption {
	return func(s *MemStore) { s.logger = logger }
}

// NewMemStore creates an empty in-memory fact store.
func NewMemStore(opts ...MemOption) *MemStore {
	s := &MemStore{
		facts:  make(map[string]*Fact),
		clock:  time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed loads a flat fact map, as parsed from a plan file's knowledge
// section.
func (s *MemStore) Seed(facts map[string]any, source string) {
	for key, value := range facts {
		_, _ = s.Put(context.Background(), key, value, source)
	}
}

// Get returns the current fact and appends a read record.
func (s *MemStore) Get(_ context.Context, key, reader string) (*Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fact, ok := s.facts[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFactNotFound, key)
	}

	s.reads = append(s.reads, ReadRecord{
		Key:      key,
		Revision: fact.Revision,
		Reader:   reader,
		ReadAt:   s.clock(),
	})
	s.logger.Debug("fact consulted",
		"key", key,
		"revision", fact.Revision,
		"reader", reader)

	out := *fact
	return &out, nil
}

// Put writes a fact, bumping the per-key revision.
func (s *MemStore) Put(_ context.Context, key string, value any, source string) (*Fact, error) {
	if key == "" {
		return nil, errors.New("fact key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rev := uint64(1)
	if prev, ok := s.facts[key]; ok {
		rev = prev.Revision + 1
	}
	fact := &Fact{
		Key:      key,
		Value:    value,
		Revision: rev,
		Source:   source,
		StoredAt: s.clock(),
	}
	s.facts[key] = fact

	out := *fact
	return &out, nil
}

// Keys returns all known keys, sorted.
func (s *MemStore) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.facts))
	for key := range s.facts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Reads returns a copy of the audit log.
func (s *MemStore) Reads(_ context.Context) ([]ReadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ReadRecord, len(s.reads))
	copy(out, s.reads)
	return out, nil
}

// Float reads a fact and coerces it to float64, falling back to the
// given default when the key is absent. Numeric YAML facts arrive as
// int or float64 depending on their literal form.
func Float(ctx context.Context, s Store, key, reader string, fallback float64) float64 {
	fact, err := s.Get(ctx, key, reader)
	if err != nil {
		return fallback
	}
	switch v := fact.Value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

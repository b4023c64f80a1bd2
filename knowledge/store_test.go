package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_PutGetRevisions(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	f1, err := s.Put(ctx, "oracle.rtol", 1e-10, "plan")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f1.Revision)

	f2, err := s.Put(ctx, "oracle.rtol", 1e-8, "challenge ch-a1b2")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f2.Revision)

	got, err := s.Get(ctx, "oracle.rtol", "oracle-checker")
	require.NoError(t, err)
	assert.Equal(t, 1e-8, got.Value)
	assert.Equal(t, uint64(2), got.Revision)
}

func TestMemStore_NotFound(t *testing.T) {
	s := NewMemStore()
	_, err := s.Get(context.Background(), "missing", "reader")
	assert.ErrorIs(t, err, ErrFactNotFound)
}

func TestMemStore_ReadsAreLogged(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	s := NewMemStore(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := s.Put(ctx, "attack.attempts", 200, "plan")
	require.NoError(t, err)
	_, err = s.Get(ctx, "attack.attempts", "adversary")
	require.NoError(t, err)
	// Failed reads are not logged; there was no consulted fact.
	_, _ = s.Get(ctx, "missing", "adversary")

	reads, err := s.Reads(ctx)
	require.NoError(t, err)
	require.Len(t, reads, 1)

	r := reads[0]
	assert.Equal(t, "attack.attempts", r.Key)
	assert.Equal(t, "adversary", r.Reader)
	assert.Equal(t, uint64(1), r.Revision)
	assert.True(t, r.ReadAt.Equal(now))
}

func TestMemStore_Seed(t *testing.T) {
	s := NewMemStore()
	s.Seed(map[string]any{
		"oracle.rtol":  1e-10,
		"oracle.atol":  1e-12,
		"attack.count": 200,
	}, "plan")

	keys, err := s.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"attack.count", "oracle.atol", "oracle.rtol"}, keys)
}

func TestFloat_Coercion(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	s.Seed(map[string]any{
		"as-float": 0.5,
		"as-int":   3,
		"as-text":  "not a number",
	}, "test")

	assert.Equal(t, 0.5, Float(ctx, s, "as-float", "r", 9))
	assert.Equal(t, 3.0, Float(ctx, s, "as-int", "r", 9))
	assert.Equal(t, 9.0, Float(ctx, s, "as-text", "r", 9))
	assert.Equal(t, 9.0, Float(ctx, s, "absent", "r", 9))
}

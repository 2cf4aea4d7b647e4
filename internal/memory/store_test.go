package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestStore_SetGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "context:user:alice")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "context:user:alice", []byte(`{"a":1}`), time.Hour))
	v, ok, err := s.Get(ctx, "context:user:alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(v))

	require.NoError(t, s.Set(ctx, "context:user:alice", []byte(`{"a":2}`), time.Hour))
	v, _, _ = s.Get(ctx, "context:user:alice")
	assert.Equal(t, `{"a":2}`, string(v))
}

func TestStore_Expiry(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "old", []byte("x"), time.Minute))
	require.NoError(t, s.Set(ctx, "new", []byte("y"), time.Hour))

	*now = now.Add(2 * time.Minute)
	_, ok, err := s.Get(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Snapshots: 1, Expired: 1}, st)

	require.NoError(t, s.Set(ctx, "other", []byte("z"), time.Hour))
	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Snapshots: 2}, st, "writes purge expired rows")
}

func TestStore_SetPurgesExpired(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "old", []byte("x"), time.Minute))
	*now = now.Add(time.Hour)
	require.NoError(t, s.Set(ctx, "fresh", []byte("y"), time.Minute))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Snapshots: 1}, st)
}

func TestStore_SetRejectsNonPositiveTTL(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Error(t, s.Set(context.Background(), "k", []byte("v"), 0))
}

func TestStore_InstancesAreIsolated(t *testing.T) {
	a, _ := newTestStore(t)
	b, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "k", []byte("v"), time.Hour))
	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Set(ctx, fmt.Sprintf("context:user:%d", i), []byte("{}"), time.Hour))
		}()
	}
	wg.Wait()

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, st.Snapshots)
}

func TestNew_OpenFailure(t *testing.T) {
	orig := openDB
	t.Cleanup(func() { openDB = orig })
	openDB = func(string, string) (*sql.DB, error) { return nil, errors.New("driver unavailable") }

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver unavailable")
}

func TestStore_CancelledContext(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Get(ctx, "k")
	assert.Error(t, err)
}

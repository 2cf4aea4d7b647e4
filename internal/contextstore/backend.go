package contextstore

import (
	"context"
	"fmt"
	"time"

	"github.com/HendryAvila/atlassian-mcp/internal/cache"
)

// DurableStore is where context snapshots survive an in-memory cleanup.
type DurableStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// cacheBackend stores snapshots in the process-wide response cache.
type cacheBackend struct {
	store *cache.Store
}

// CacheBackend adapts a cache.Store to DurableStore. Snapshots are tagged
// so they can be flushed without touching cached API responses.
func CacheBackend(store *cache.Store) DurableStore {
	return &cacheBackend{store: store}
}

func (b *cacheBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, ok := b.store.Get(key)
	if !ok {
		return nil, false, nil
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, false, fmt.Errorf("context snapshot %s has type %T", key, v)
	}
	return data, true, nil
}

func (b *cacheBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.store.SetWithTags(key, value, ttl, SnapshotTag)
	return nil
}

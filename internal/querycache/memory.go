package querycache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/usagedeck/usagedeck/internal/config"
)

// entryOverhead approximates the per-entry bookkeeping charged on top of
// the payload bytes.
const entryOverhead = 64

type memoryStore struct {
	cache     *ristretto.Cache[string, Entry]
	retention time.Duration
}

func newMemoryStore(cfg config.CacheConfig) (*memoryStore, error) {
	maxCost := cfg.MaxCostBytes
	if maxCost <= 0 {
		maxCost = 64 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, Entry]{
		NumCounters: 1e7,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &memoryStore{cache: cache, retention: retention(cfg.TTL)}, nil
}

func (s *memoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	entry, ok := s.cache.Get(key)
	return entry, ok, nil
}

func (s *memoryStore) Set(_ context.Context, key string, entry Entry) error {
	cost := int64(len(entry.Payload)) + entryOverhead
	s.cache.SetWithTTL(key, entry, cost, s.retention)
	// Ristretto applies sets asynchronously; wait so an immediate read
	// after a fill sees the entry.
	s.cache.Wait()
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.cache.Del(key)
	return nil
}

func (s *memoryStore) Flush(_ context.Context) error {
	s.cache.Clear()
	return nil
}

func (s *memoryStore) Name() string { return "memory" }

func (s *memoryStore) Close() error {
	s.cache.Close()
	return nil
}

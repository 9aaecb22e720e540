package querycache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/usagedeck/usagedeck/internal/config"
	"github.com/usagedeck/usagedeck/internal/observability"
)

// backgroundTimeout bounds a refresh that no caller is waiting on.
const backgroundTimeout = 30 * time.Second

// Fetcher loads the authoritative bytes for a key.
type Fetcher func(ctx context.Context) ([]byte, error)

// Result is the answer to one lookup. Stale means the data aged past the
// TTL and a replacement is being fetched; Fetching reports whether that
// refetch is still in flight.
type Result struct {
	Data      []byte
	FetchedAt time.Time
	Stale     bool
	Fetching  bool
}

// Cache serves query results with a freshness TTL. A fresh entry is
// returned as is. An aged entry is returned immediately while one
// background refetch replaces it. A missing entry blocks on the first
// load, with concurrent loads for the same key collapsed to one fetch.
type Cache struct {
	store   Store
	ttl     time.Duration
	metrics *observability.Provider
	group   singleflight.Group
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New wraps store with lookup policy from cfg.
func New(store Store, cfg config.CacheConfig, metrics *observability.Provider) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		store:    store,
		ttl:      ttl,
		metrics:  metrics,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// Get looks up key, calling fetch when the cache cannot answer freshly.
func (c *Cache) Get(ctx context.Context, key string, fetch Fetcher) (Result, error) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("query cache read failed", "store", c.store.Name(), "error", err)
		ok = false
	}

	if ok && c.now().Sub(entry.FetchedAt) < c.ttl {
		c.metrics.RecordCacheLookup(c.store.Name(), "fresh")
		return Result{Data: entry.Payload, FetchedAt: entry.FetchedAt}, nil
	}

	if ok {
		c.metrics.RecordCacheLookup(c.store.Name(), "stale")
		fetching := c.refreshAsync(key, fetch)
		return Result{Data: entry.Payload, FetchedAt: entry.FetchedAt, Stale: true, Fetching: fetching}, nil
	}

	c.metrics.RecordCacheLookup(c.store.Name(), "miss")
	entry, err = c.load(ctx, key, fetch)
	if err != nil {
		return Result{}, err
	}
	return Result{Data: entry.Payload, FetchedAt: entry.FetchedAt}, nil
}

// GetAsync is Get without the blocking miss path: when the store has
// nothing for key the load runs in the background and ok is false, so the
// caller can keep showing whatever it showed before.
func (c *Cache) GetAsync(ctx context.Context, key string, fetch Fetcher) (Result, bool) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("query cache read failed", "store", c.store.Name(), "error", err)
		ok = false
	}

	if ok && c.now().Sub(entry.FetchedAt) < c.ttl {
		c.metrics.RecordCacheLookup(c.store.Name(), "fresh")
		return Result{Data: entry.Payload, FetchedAt: entry.FetchedAt}, true
	}

	if ok {
		c.metrics.RecordCacheLookup(c.store.Name(), "stale")
		fetching := c.refreshAsync(key, fetch)
		return Result{Data: entry.Payload, FetchedAt: entry.FetchedAt, Stale: true, Fetching: fetching}, true
	}

	c.metrics.RecordCacheLookup(c.store.Name(), "miss")
	c.refreshAsync(key, fetch)
	return Result{Fetching: true}, false
}

// Fetch reloads key synchronously regardless of freshness.
func (c *Cache) Fetch(ctx context.Context, key string, fetch Fetcher) (Result, error) {
	entry, err := c.load(ctx, key, fetch)
	if err != nil {
		return Result{}, err
	}
	return Result{Data: entry.Payload, FetchedAt: entry.FetchedAt}, nil
}

// Invalidate drops a single key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Flush drops every cached entry.
func (c *Cache) Flush(ctx context.Context) error {
	return c.store.Flush(ctx)
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

// refreshAsync starts one background reload of key unless one is already
// running. It reports whether a refetch is in flight afterwards, which is
// always true.
func (c *Cache) refreshAsync(key string, fetch Fetcher) bool {
	c.mu.Lock()
	if _, running := c.inflight[key]; running {
		c.mu.Unlock()
		return true
	}
	c.inflight[key] = struct{}{}
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, key)
			c.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if _, err := c.load(ctx, key, fetch); err != nil {
			slog.Warn("query cache refresh failed", "key", key, "error", err)
		}
	}()
	return true
}

// load fetches and stores key once, collapsing concurrent callers.
func (c *Cache) load(ctx context.Context, key string, fetch Fetcher) (Entry, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		entry := Entry{Payload: data, FetchedAt: c.now()}
		if serr := c.store.Set(ctx, key, entry); serr != nil {
			slog.Warn("query cache write failed", "store", c.store.Name(), "error", serr)
		}
		return entry, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// GetJSON is Get for callers that cache JSON documents, decoding the
// payload into T.
func GetJSON[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, Result, error) {
	var zero T
	res, err := c.Get(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, Result{}, err
	}
	var out T
	if err := json.Unmarshal(res.Data, &out); err != nil {
		return zero, Result{}, fmt.Errorf("querycache: decode cached value: %w", err)
	}
	return out, res, nil
}

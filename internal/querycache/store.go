// Package querycache keeps fetched query results hot so dashboard views
// render instantly while fresh data loads behind them. Lookups are keyed by
// the caller's canonical filter+pagination serialization; distinct keys
// never share entries.
package querycache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/usagedeck/usagedeck/internal/config"
)

// Entry is one cached response body plus the moment it was fetched.
type Entry struct {
	Payload   []byte    `json:"payload"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Store is the physical layer under the cache. Implementations retain
// entries well past the freshness TTL so an aged entry is still servable
// while its replacement is being fetched. Eviction beyond that is the
// backend's policy (cost-based admission for memory, key expiry for redis).
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
	Delete(ctx context.Context, key string) error
	Flush(ctx context.Context) error
	Name() string
	Close() error
}

// NewStore builds the configured backend.
func NewStore(cfg config.CacheConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "", "memory":
		return newMemoryStore(cfg)
	case "redis":
		return newRedisStore(cfg)
	default:
		return nil, fmt.Errorf("querycache: unsupported store %q", cfg.Store)
	}
}

// retention is how long a store keeps an entry. Four freshness windows
// leaves stale data servable long after it stops being fresh.
func retention(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return 4 * ttl
}

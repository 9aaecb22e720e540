package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/usagedeck/usagedeck/internal/config"
)

// redisStore shares cached queries between consoles pointed at the same
// redis. Entries are stored as JSON with a key expiry of the retention
// window.
type redisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

func newRedisStore(cfg config.CacheConfig) (*redisStore, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("querycache: redis store requires cache.redis.addr")
	}
	prefix := strings.TrimSpace(cfg.Redis.KeyPrefix)
	if prefix == "" {
		prefix = "usagedeck:query"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	})
	return &redisStore{
		client:    client,
		prefix:    strings.TrimSuffix(prefix, ":"),
		retention: retention(cfg.TTL),
	}, nil
}

func (s *redisStore) prefixed(key string) string {
	return s.prefix + ":" + key
}

func (s *redisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := s.client.Get(ctx, s.prefixed(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("querycache: redis get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("querycache: decode entry: %w", err)
	}
	return entry, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("querycache: encode entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefixed(key), data, s.retention).Err(); err != nil {
		return fmt.Errorf("querycache: redis set: %w", err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefixed(key)).Err(); err != nil {
		return fmt.Errorf("querycache: redis del: %w", err)
	}
	return nil
}

func (s *redisStore) Flush(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("querycache: redis flush: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("querycache: redis scan: %w", err)
	}
	return nil
}

func (s *redisStore) Name() string { return "redis" }

func (s *redisStore) Close() error { return s.client.Close() }

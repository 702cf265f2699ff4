package access

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps resolved access sets in Redis so several admin-interface
// instances can share one cache. Entries carry a generation number; Flush
// bumps the generation, which orphans every existing key at once, and the
// TTL reclaims the orphans.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps rdb as a Store. ttl bounds how long a resolved set may
// serve after the user's directory entry changes (recommended: 120s).
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	return &RedisStore{rdb: rdb, prefix: "xzaccess", ttl: ttl}
}

func (s *RedisStore) generation(ctx context.Context) (string, error) {
	gen, err := s.rdb.Get(ctx, s.prefix+":gen").Result()
	if err == redis.Nil {
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	return gen, nil
}

func (s *RedisStore) userKey(gen, user string) string {
	return fmt.Sprintf("%s:%s:user:%s", s.prefix, gen, user)
}

func (s *RedisStore) Get(ctx context.Context, user string) ([]string, bool, error) {
	gen, err := s.generation(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("redis cache: %w", err)
	}
	raw, err := s.rdb.Get(ctx, s.userKey(gen, user)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis cache: %w", err)
	}
	// An empty JSON array round-trips, keeping "resolved, nothing allowed"
	// distinct from a miss.
	names := []string{}
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, false, fmt.Errorf("redis cache: decode %q: %w", user, err)
	}
	return names, true, nil
}

func (s *RedisStore) Put(ctx context.Context, user string, names []string) error {
	if names == nil {
		names = []string{}
	}
	raw, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("redis cache: encode %q: %w", user, err)
	}
	gen, err := s.generation(ctx)
	if err != nil {
		return fmt.Errorf("redis cache: %w", err)
	}
	if err := s.rdb.Set(ctx, s.userKey(gen, user), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis cache: %w", err)
	}
	return nil
}

func (s *RedisStore) Flush(ctx context.Context) error {
	if err := s.rdb.Incr(ctx, s.prefix+":gen").Err(); err != nil {
		return fmt.Errorf("redis cache: flush: %w", err)
	}
	return nil
}

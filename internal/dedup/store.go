package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store remembers which submission ids have already been handed to the notifier.
type Store interface {
	// MarkSeen records id and reports whether it had been recorded before.
	MarkSeen(ctx context.Context, id string) (bool, error)
}

// MemoryStore keeps seen ids for the lifetime of the process.
// It is used only by the watch loop goroutine and is not safe for concurrent use.
type MemoryStore struct {
	seen map[string]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]struct{})}
}

func (m *MemoryStore) MarkSeen(_ context.Context, id string) (bool, error) {
	if _, ok := m.seen[id]; ok {
		return true, nil
	}
	m.seen[id] = struct{}{}
	return false, nil
}

// Len returns the number of ids recorded.
func (m *MemoryStore) Len() int { return len(m.seen) }

// RedisStore keeps seen ids in Redis so they survive restarts.
// Keys are "<prefix><id>" with an optional TTL (0 keeps them forever).
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. Prefix may be empty.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "formrelay:seen:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisStore) MarkSeen(ctx context.Context, id string) (bool, error) {
	added, err := r.client.SetNX(ctx, r.key(id), time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		return false, err
	}
	return !added, nil
}

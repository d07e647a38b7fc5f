package flash

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "flash:"

// RedisStore keeps flash messages in a Redis list per key, so they survive across server replicas.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore returns a Redis-backed store. ttl <= 0 means DefaultTTL.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Add pushes msg and refreshes the list TTL in one round trip.
func (s *RedisStore) Add(ctx context.Context, key string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal flash: %w", err)
	}
	k := redisKeyPrefix + key
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, k, payload)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist flash: %w", err)
	}
	return nil
}

// Pop reads and deletes the list atomically.
func (s *RedisStore) Pop(ctx context.Context, key string) ([]Message, error) {
	k := redisKeyPrefix + key
	var lrange *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		lrange = p.LRange(ctx, k, 0, -1)
		p.Del(ctx, k)
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load flash: %w", err)
	}
	raw, err := lrange.Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load flash: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode flash: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// NewRedisClient dials addr and pings it with a short timeout.
func NewRedisClient(ctx context.Context, addr, password string, db int) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

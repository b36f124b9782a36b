// Package denylist records access tokens revoked by logout until they would
// have expired anyway.
package denylist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces denylist keys in a shared Redis.
const DefaultPrefix = "kcgate:denylist:access:"

// Store answers whether an access token has been revoked.
type Store interface {
	Add(ctx context.Context, token string, ttl time.Duration) error
	Contains(ctx context.Context, token string) (bool, error)
}

// RedisStore keeps hashed tokens in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a Store backed by client. An empty prefix uses DefaultPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return s.prefix + hex.EncodeToString(sum[:])
}

// Add denies token for ttl. A non-positive ttl is a no-op: the token is already dead.
func (s *RedisStore) Add(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.key(token), "1", ttl).Err()
}

func (s *RedisStore) Contains(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Nop is used when no Redis is configured.
type Nop struct{}

func (Nop) Add(context.Context, string, time.Duration) error { return nil }

func (Nop) Contains(context.Context, string) (bool, error) { return false, nil }

package denylist

import (
	"context"
	"strings"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*mr.Miniredis, *RedisStore) {
	t.Helper()
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return m, NewRedisStore(client, "")
}

func TestRedisStore_AddContains(t *testing.T) {
	m, s := newStore(t)
	ctx := context.Background()
	token := "access-token-1"

	require.NoError(t, s.Add(ctx, token, 2*time.Second))

	ok, err := s.Contains(ctx, token)
	require.NoError(t, err)
	require.True(t, ok)

	// advance past TTL
	m.FastForward(3 * time.Second)

	ok, err = s.Contains(ctx, token)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStore_KeysAreHashed(t *testing.T) {
	m, s := newStore(t)
	token := "eyJhbGciOi.secret.payload"
	require.NoError(t, s.Add(context.Background(), token, time.Minute))

	keys := m.Keys()
	require.Len(t, keys, 1)
	require.True(t, strings.HasPrefix(keys[0], DefaultPrefix))
	require.NotContains(t, keys[0], token)
}

func TestRedisStore_NonPositiveTTL(t *testing.T) {
	m, s := newStore(t)
	require.NoError(t, s.Add(context.Background(), "t", 0))
	require.Empty(t, m.Keys())
}

func TestRedisStore_Unavailable(t *testing.T) {
	m, s := newStore(t)
	m.Close()
	_, err := s.Contains(context.Background(), "t")
	require.Error(t, err)
}

func TestNop(t *testing.T) {
	var s Store = Nop{}
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, "t", time.Second))
	ok, err := s.Contains(ctx, "t")
	require.NoError(t, err)
	require.False(t, ok)
}

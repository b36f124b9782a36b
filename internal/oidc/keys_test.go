package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcgate/kcgate/internal/oidctest"
)

func TestKeyCache_FetchesOnce(t *testing.T) {
	idp := oidctest.New(t)
	kc := NewKeyCache(idp.JWKSURL(), WithHTTPClient(idp.Client()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := kc.Key(context.Background(), oidctest.KeyID)
			assert.NoError(t, err)
			assert.IsType(t, &rsa.PublicKey{}, key)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, idp.JWKSHits())
}

func TestKeyCache_UnknownKid(t *testing.T) {
	idp := oidctest.New(t)
	kc := NewKeyCache(idp.JWKSURL(), WithHTTPClient(idp.Client()))

	_, err := kc.Key(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestKeyCache_EmptyKidSingleKey(t *testing.T) {
	idp := oidctest.New(t)
	kc := NewKeyCache(idp.JWKSURL(), WithHTTPClient(idp.Client()))

	key, err := kc.Key(context.Background(), "")
	require.NoError(t, err)
	assert.NotNil(t, key)
}

func TestKeyCache_RefreshInterval(t *testing.T) {
	idp := oidctest.New(t)
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	kc := NewKeyCache(idp.JWKSURL(),
		WithHTTPClient(idp.Client()),
		WithRefreshInterval(time.Minute),
		WithClock(clock))

	_, err := kc.Keys(context.Background())
	require.NoError(t, err)
	_, err = kc.Keys(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, idp.JWKSHits())

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	_, err = kc.Keys(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, idp.JWKSHits())
}

// flakyJWKS serves a fixed key set until told to fail and counts requests.
func flakyJWKS(t *testing.T) (*httptest.Server, *atomic.Bool, *atomic.Int32) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key, err := jwk.Import(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "k1"))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(key))
	body, err := json.Marshal(set)
	require.NoError(t, err)

	var fail atomic.Bool
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &fail, &hits
}

func TestKeyCache_FailedRefreshKeepsPreviousSet(t *testing.T) {
	srv, fail, _ := flakyJWKS(t)
	now := time.Now()
	var mu sync.Mutex
	kc := NewKeyCache(srv.URL,
		WithHTTPClient(srv.Client()),
		WithRefreshInterval(time.Minute),
		WithClock(func() time.Time { mu.Lock(); defer mu.Unlock(); return now }))

	_, err := kc.Key(context.Background(), "k1")
	require.NoError(t, err)

	fail.Store(true)
	mu.Lock()
	now = now.Add(time.Hour)
	mu.Unlock()

	key, err := kc.Key(context.Background(), "k1")
	require.NoError(t, err)
	assert.NotNil(t, key)
}

func TestKeyCache_FirstFetchFails(t *testing.T) {
	srv, fail, _ := flakyJWKS(t)
	fail.Store(true)
	kc := NewKeyCache(srv.URL, WithHTTPClient(srv.Client()))

	_, err := kc.Keys(context.Background())
	assert.Error(t, err)

	// a later success fills the cache
	fail.Store(false)
	_, err = kc.Key(context.Background(), "k1")
	assert.NoError(t, err)
}

func TestKeyCache_FailedRefreshWaitsAnInterval(t *testing.T) {
	srv, fail, hits := flakyJWKS(t)
	now := time.Now()
	var mu sync.Mutex
	advance := func(d time.Duration) { mu.Lock(); now = now.Add(d); mu.Unlock() }
	kc := NewKeyCache(srv.URL,
		WithHTTPClient(srv.Client()),
		WithRefreshInterval(time.Minute),
		WithClock(func() time.Time { mu.Lock(); defer mu.Unlock(); return now }))

	_, err := kc.Key(context.Background(), "k1")
	require.NoError(t, err)
	require.EqualValues(t, 1, hits.Load())

	fail.Store(true)
	advance(time.Hour)
	for i := 0; i < 5; i++ {
		_, err := kc.Key(context.Background(), "k1")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, hits.Load(), "one failed refresh, then the old set is served until the next interval")

	advance(2 * time.Minute)
	_, err = kc.Key(context.Background(), "k1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, hits.Load())
}

func TestKeyCache_CancelledCallerDoesNotFailFetch(t *testing.T) {
	srv, _, _ := flakyJWKS(t)
	kc := NewKeyCache(srv.URL, WithHTTPClient(srv.Client()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := kc.Key(ctx, "k1")
	assert.NoError(t, err)
}

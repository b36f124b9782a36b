package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"

	"github.com/kcgate/kcgate/pkg/logger"
	"github.com/kcgate/kcgate/pkg/metrics"
)

// ErrKeyNotFound is returned when the key set has no key for the requested id.
var ErrKeyNotFound = errors.New("signing key not found")

// fetchTimeout bounds a shared fetch, which outlives the caller that started it.
const fetchTimeout = 10 * time.Second

// KeyCache holds the provider's signing keys for the life of the process.
//
// The key set is fetched on first use; concurrent first callers share one fetch.
// Readers load an immutable snapshot without locking. With a refresh interval
// set, a lookup against an older snapshot triggers a refetch; a failed refetch
// keeps the previous set and waits another interval before trying again.
type KeyCache struct {
	jwksURL string
	client  *http.Client
	refresh time.Duration
	now     func() time.Time

	snap  atomic.Pointer[keySnapshot]
	group singleflight.Group
}

type keySnapshot struct {
	set       jwk.Set
	fetchedAt time.Time
}

// KeyCacheOption configures a KeyCache.
type KeyCacheOption func(*KeyCache)

// WithHTTPClient sets the client used to fetch the key set.
func WithHTTPClient(c *http.Client) KeyCacheOption {
	return func(k *KeyCache) { k.client = c }
}

// WithRefreshInterval enables periodic refetching. Zero keeps the first set forever.
func WithRefreshInterval(d time.Duration) KeyCacheOption {
	return func(k *KeyCache) { k.refresh = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) KeyCacheOption {
	return func(k *KeyCache) { k.now = now }
}

// NewKeyCache creates a cache for the JWKS document at jwksURL. Nothing is fetched yet.
func NewKeyCache(jwksURL string, opts ...KeyCacheOption) *KeyCache {
	k := &KeyCache{jwksURL: jwksURL, client: http.DefaultClient, now: time.Now}
	for _, o := range opts {
		o(k)
	}
	return k
}

func (k *KeyCache) fresh(s *keySnapshot) bool {
	if s == nil {
		return false
	}
	return k.refresh <= 0 || k.now().Sub(s.fetchedAt) < k.refresh
}

// Keys returns the current key set, fetching it if needed.
func (k *KeyCache) Keys(ctx context.Context) (jwk.Set, error) {
	if s := k.snap.Load(); k.fresh(s) {
		return s.set, nil
	}
	v, err, _ := k.group.Do(k.jwksURL, func() (interface{}, error) {
		// another caller may have filled the cache while we waited
		prev := k.snap.Load()
		if k.fresh(prev) {
			return prev.set, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		set, err := jwk.Fetch(fctx, k.jwksURL, jwk.WithHTTPClient(k.client))
		if err != nil {
			metrics.JWKSFetches.WithLabelValues("error").Inc()
			if prev != nil {
				logger.Warnf("JWKS refresh from %s failed, keeping previous key set: %v", k.jwksURL, err)
				k.snap.Store(&keySnapshot{set: prev.set, fetchedAt: k.now()})
				return prev.set, nil
			}
			return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
		}
		metrics.JWKSFetches.WithLabelValues("ok").Inc()
		logger.Debugf("fetched %d signing keys from %s", set.Len(), k.jwksURL)
		k.snap.Store(&keySnapshot{set: set, fetchedAt: k.now()})
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}

// Key returns the raw public key for kid. An empty kid is accepted only when
// the set holds a single key.
func (k *KeyCache) Key(ctx context.Context, kid string) (interface{}, error) {
	set, err := k.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var key jwk.Key
	if kid == "" {
		if set.Len() != 1 {
			return nil, fmt.Errorf("%w: token has no kid and the key set holds %d keys", ErrKeyNotFound, set.Len())
		}
		key, _ = set.Key(0)
	} else {
		var ok bool
		key, ok = set.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
		}
	}
	var raw interface{}
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}
	return raw, nil
}

package featureflag

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// cachedFlag records both hits and confirmed misses so absent flags do
// not cost a query per request.
type cachedFlag struct {
	flag  Flag
	found bool
}

// CachedStore fronts a Store with a short-TTL in-process cache. Writes
// through this store invalidate locally; writes on other replicas become
// visible once the TTL lapses.
type CachedStore struct {
	inner Store
	cache *ristretto.Cache[string, cachedFlag]
	ttl   time.Duration
}

// NewCachedStore wraps inner. A zero ttl disables caching.
func NewCachedStore(inner Store, ttl time.Duration) (*CachedStore, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, cachedFlag]{
		NumCounters: 10_000, // ~10x expected flags
		MaxCost:     1_000,
		BufferItems: 64,
		// cost is counted in entries, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &CachedStore{inner: inner, cache: c, ttl: ttl}, nil
}

func (s *CachedStore) Get(ctx context.Context, key string) (*Flag, error) {
	if s.ttl > 0 {
		if v, ok := s.cache.Get(key); ok {
			if !v.found {
				return nil, ErrFlagNotFound
			}
			f := v.flag
			return &f, nil
		}
	}

	f, err := s.inner.Get(ctx, key)
	switch {
	case errors.Is(err, ErrFlagNotFound):
		s.remember(key, cachedFlag{})
		return nil, err
	case err != nil:
		return nil, err
	}
	s.remember(key, cachedFlag{flag: *f, found: true})
	return f, nil
}

func (s *CachedStore) List(ctx context.Context) ([]*Flag, error) {
	return s.inner.List(ctx)
}

func (s *CachedStore) Set(ctx context.Context, f *Flag) error {
	if err := s.inner.Set(ctx, f); err != nil {
		return err
	}
	s.cache.Del(f.Key)
	return nil
}

// Close releases the cache.
func (s *CachedStore) Close() {
	s.cache.Close()
}

func (s *CachedStore) remember(key string, v cachedFlag) {
	if s.ttl <= 0 {
		return
	}
	s.cache.SetWithTTL(key, v, 1, s.ttl)
}

var _ Store = (*CachedStore)(nil)

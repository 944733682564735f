package gateway

import (
	"context"
	"sync"
	"time"
)

// tokenSafetyMargin forces a refresh slightly before the provider's reported
// expiry so an in-flight request never rides a token that lapses mid-call.
const tokenSafetyMargin = 60 * time.Second

// TokenFetchFunc obtains a fresh session token from the provider's grant
// endpoint, returning the token value and its absolute expiry.
type TokenFetchFunc func(ctx context.Context) (token string, expiresAt time.Time, err error)

// TokenCache holds at most one session token for one adapter instance. It is
// mutex-guarded so a shared adapter can be used from concurrent workers.
type TokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
	fetch     TokenFetchFunc
}

func NewTokenCache(fetch TokenFetchFunc, now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{now: now, fetch: fetch}
}

// EnsureValid returns a token that is good for at least the safety margin,
// fetching a fresh one synchronously if the cached token is absent or about
// to expire. A fetch failure aborts the caller's operation — a stale token
// is never reused to "try anyway", and nothing is cached on failure.
func (c *TokenCache) EnsureValid(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt.Add(-tokenSafetyMargin)) {
		return c.token, nil
	}

	token, expiresAt, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiresAt = expiresAt
	return c.token, nil
}

// Invalidate drops the cached token so the next call re-fetches. Used when a
// provider rejects a token before its reported expiry.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

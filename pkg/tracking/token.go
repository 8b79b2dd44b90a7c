package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/tournevent/tracksync/pkg/carrier"
)

// TokenSafetyMargin is subtracted from the carrier-reported expiry so a
// token never expires mid-flight.
const TokenSafetyMargin = 5 * time.Minute

// GetToken returns a usable bearer token and the value to cache next.
// A cached token is reused while now is before its (margined) expiry;
// otherwise auth is called. On failure the returned cache is nil and the
// error wraps carrier.ErrAuth.
func GetToken(ctx context.Context, auth carrier.Authenticator, cred *carrier.Credential, cached *carrier.AuthToken, now time.Time) (string, *carrier.AuthToken, error) {
	if cached.ValidAt(now) {
		return cached.Token, cached, nil
	}
	if cred == nil {
		return "", nil, fmt.Errorf("%w: %w", carrier.ErrAuth, carrier.ErrCredentialNotFound)
	}

	tok, err := auth.Authenticate(ctx, cred)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", carrier.ErrAuth, err)
	}

	next := &carrier.AuthToken{
		Token:       tok.Token,
		ExpiresAt:   tok.ExpiresAt.Add(-TokenSafetyMargin),
		Environment: tok.Environment,
	}
	return tok.Token, next, nil
}

// TokenCache holds one credential's token for the duration of a run.
// It is owned by a single goroutine and must not be shared across
// credentials.
type TokenCache struct {
	auth      carrier.Authenticator
	cred      *carrier.Credential
	now       func() time.Time
	cached    *carrier.AuthToken
	refreshes int
}

// NewTokenCache creates an empty cache for cred.
func NewTokenCache(auth carrier.Authenticator, cred *carrier.Credential, now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{auth: auth, cred: cred, now: now}
}

// Token returns a valid token, authenticating when the cached one is
// missing or inside the safety margin.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	hadValid := c.cached.ValidAt(c.now())

	token, next, err := GetToken(ctx, c.auth, c.cred, c.cached, c.now())
	c.cached = next
	if err != nil {
		return "", err
	}
	if !hadValid {
		c.refreshes++
	}
	return token, nil
}

// Invalidate drops the cached token, forcing the next Token call to
// re-authenticate.
func (c *TokenCache) Invalidate() {
	c.cached = nil
}

// Cached returns the cached token, if any.
func (c *TokenCache) Cached() *carrier.AuthToken {
	return c.cached
}

// Refreshes returns how many authentications the cache performed.
func (c *TokenCache) Refreshes() int {
	return c.refreshes
}

package tracking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/tracksync/pkg/carrier"
	"github.com/tournevent/tracksync/pkg/carrier/mock"
	"github.com/tournevent/tracksync/pkg/tracking"
)

var fixedNow = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func testCredential() *carrier.Credential {
	return &carrier.Credential{
		TenantID:       "team-1",
		Identifier:     "12345678901",
		AccessCode:     "secret",
		ContractNumber: "9912345678",
	}
}

func TestGetToken_ReusesValidCache(t *testing.T) {
	c := mock.New("test")
	cached := &carrier.AuthToken{Token: "cached", ExpiresAt: fixedNow.Add(time.Minute)}

	token, next, err := tracking.GetToken(context.Background(), c, testCredential(), cached, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "cached", token)
	assert.Same(t, cached, next)
	assert.Equal(t, 0, c.AuthCalls())
}

func TestGetToken_AppliesSafetyMargin(t *testing.T) {
	c := mock.New("test")
	c.OnAuthenticate = func(ctx context.Context, cred *carrier.Credential) (*carrier.AuthToken, error) {
		return &carrier.AuthToken{Token: "fresh", ExpiresAt: fixedNow.Add(time.Hour), Environment: "PRODUCAO"}, nil
	}

	token, next, err := tracking.GetToken(context.Background(), c, testCredential(), nil, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	require.NotNil(t, next)
	assert.Equal(t, fixedNow.Add(55*time.Minute), next.ExpiresAt)
	assert.Equal(t, "PRODUCAO", next.Environment)
}

func TestGetToken_ExpiredCacheReauthenticates(t *testing.T) {
	c := mock.New("test")
	c.Now = func() time.Time { return fixedNow }
	cached := &carrier.AuthToken{Token: "old", ExpiresAt: fixedNow}

	token, _, err := tracking.GetToken(context.Background(), c, testCredential(), cached, fixedNow)
	require.NoError(t, err)
	assert.NotEqual(t, "old", token)
	assert.Equal(t, 1, c.AuthCalls())
}

func TestGetToken_NilCredential(t *testing.T) {
	c := mock.New("test")

	_, next, err := tracking.GetToken(context.Background(), c, nil, nil, fixedNow)
	require.Error(t, err)
	assert.Nil(t, next)
	assert.True(t, errors.Is(err, carrier.ErrAuth))
	assert.True(t, errors.Is(err, carrier.ErrCredentialNotFound))
	assert.Equal(t, 0, c.AuthCalls())
}

func TestGetToken_AuthErrorIsWrapped(t *testing.T) {
	c := mock.New("test")
	c.OnAuthenticate = func(ctx context.Context, cred *carrier.Credential) (*carrier.AuthToken, error) {
		return nil, carrier.NewError("test", carrier.ErrInvalidCredentials, "Invalid credentials: bad")
	}

	_, next, err := tracking.GetToken(context.Background(), c, testCredential(), nil, fixedNow)
	require.Error(t, err)
	assert.Nil(t, next)
	assert.True(t, errors.Is(err, carrier.ErrAuth))
	assert.True(t, errors.Is(err, carrier.ErrInvalidCredentials))
}

func TestTokenCache_LongLivedTokenIsReused(t *testing.T) {
	c := mock.New("test")
	c.OnAuthenticate = func(ctx context.Context, cred *carrier.Credential) (*carrier.AuthToken, error) {
		return &carrier.AuthToken{Token: "t", ExpiresAt: fixedNow.Add(10 * time.Minute)}, nil
	}
	cache := tracking.NewTokenCache(c, testCredential(), func() time.Time { return fixedNow })

	_, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(5*time.Minute), cache.Cached().ExpiresAt)

	_, err = cache.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, c.AuthCalls(), "second call must hit the cache")
	assert.Equal(t, 1, cache.Refreshes())
}

func TestTokenCache_ShortLivedTokenIsRefreshed(t *testing.T) {
	c := mock.New("test")
	c.OnAuthenticate = func(ctx context.Context, cred *carrier.Credential) (*carrier.AuthToken, error) {
		return &carrier.AuthToken{Token: "t", ExpiresAt: fixedNow.Add(time.Minute)}, nil
	}
	cache := tracking.NewTokenCache(c, testCredential(), func() time.Time { return fixedNow })

	_, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(-4*time.Minute), cache.Cached().ExpiresAt)

	_, err = cache.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, c.AuthCalls(), "token inside the safety margin must be refreshed")
}

func TestTokenCache_Invalidate(t *testing.T) {
	c := mock.New("test")
	c.Now = func() time.Time { return fixedNow }
	cache := tracking.NewTokenCache(c, testCredential(), func() time.Time { return fixedNow })

	first, err := cache.Token(context.Background())
	require.NoError(t, err)

	cache.Invalidate()
	assert.Nil(t, cache.Cached())

	second, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, c.AuthCalls())
}

func TestTokenCache_FailureClearsCache(t *testing.T) {
	c := mock.New("test")
	c.OnAuthenticate = func(ctx context.Context, cred *carrier.Credential) (*carrier.AuthToken, error) {
		return nil, carrier.NewError("test", carrier.ErrCarrierServer, "down")
	}
	cache := tracking.NewTokenCache(c, testCredential(), func() time.Time { return fixedNow })

	_, err := cache.Token(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, carrier.ErrAuth))
	assert.Nil(t, cache.Cached())
	assert.Equal(t, 0, cache.Refreshes())
}

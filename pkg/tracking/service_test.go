package tracking_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/tracksync/pkg/carrier"
	"github.com/tournevent/tracksync/pkg/carrier/mock"
	"github.com/tournevent/tracksync/pkg/tracking"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type fakeCredentialStore map[string]*carrier.Credential

func (s fakeCredentialStore) FindByTenant(ctx context.Context, tenantID string) (*carrier.Credential, error) {
	cred, ok := s[tenantID]
	if !ok {
		return nil, carrier.ErrCredentialNotFound
	}
	return cred, nil
}

func (s fakeCredentialStore) ListTenants(ctx context.Context) ([]string, error) {
	tenants := make([]string, 0, len(s))
	for id := range s {
		tenants = append(tenants, id)
	}
	sort.Strings(tenants)
	return tenants, nil
}

var errBusy = errors.New("lock busy")

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	keys []string
}

func (l *fakeLocker) TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	l.mu.Lock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		l.mu.Unlock()
		return errBusy
	}
	l.held[key] = true
	l.keys = append(l.keys, key)
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()
	return fn(ctx)
}

func newTestService(c tracking.Carrier, creds fakeCredentialStore, store *fakeOrderStore, locker tracking.Locker) *tracking.Service {
	return tracking.NewService(tracking.ServiceConfig{
		Carrier:           c,
		Credentials:       creds,
		Orders:            store,
		Tenants:           creds,
		Locker:            locker,
		TenantConcurrency: 2,
	}, nil, otelzap.New(zap.NewNop()),
		tracking.WithSleeper(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
	)
}

func TestService_SyncTenant(t *testing.T) {
	c := mock.New("test")
	store := newFakeOrderStore()
	store.orders["team-1"] = append(makeOrders(3), carrier.Order{ID: "untracked"})
	locker := &fakeLocker{}
	svc := newTestService(c, fakeCredentialStore{"team-1": testCredential()}, store, locker)

	result, err := svc.SyncTenant(context.Background(), "team-1")
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalProcessed)
	assert.Equal(t, 3, result.SuccessfulUpdates)
	assert.Equal(t, []string{"tracksync:sync:team-1"}, locker.keys)
}

func TestService_SyncTenant_NoCredential(t *testing.T) {
	c := mock.New("test")
	store := newFakeOrderStore()
	store.orders["team-2"] = makeOrders(3)
	svc := newTestService(c, fakeCredentialStore{}, store, nil)

	result, err := svc.SyncTenant(context.Background(), "team-2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, carrier.ErrAuth))
	assert.True(t, errors.Is(err, carrier.ErrCredentialNotFound))
	assert.Equal(t, 0, result.TotalProcessed)
	assert.Equal(t, 0, c.AuthCalls())
}

func TestService_SyncTenant_LockHeld(t *testing.T) {
	c := mock.New("test")
	store := newFakeOrderStore()
	store.orders["team-1"] = makeOrders(3)
	locker := &fakeLocker{held: map[string]bool{"tracksync:sync:team-1": true}}
	svc := newTestService(c, fakeCredentialStore{"team-1": testCredential()}, store, locker)

	_, err := svc.SyncTenant(context.Background(), "team-1")
	assert.ErrorIs(t, err, errBusy)
	assert.Empty(t, c.TrackCalls())
}

func TestService_SyncAllTenants(t *testing.T) {
	c := mock.New("test")
	store := newFakeOrderStore()
	store.orders["team-a"] = makeOrders(2)
	store.orders["team-b"] = makeOrders(60)

	bad := testCredential()
	bad.TenantID = "team-c"
	bad.Identifier = "123"

	creds := fakeCredentialStore{
		"team-a": testCredential(),
		"team-b": testCredential(),
		"team-c": bad,
	}
	store.orders["team-c"] = makeOrders(1)
	svc := newTestService(c, creds, store, &fakeLocker{})

	results, err := svc.SyncAllTenants(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "team-a", results[0].TenantID)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 2, results[0].Result.SuccessfulUpdates)

	assert.Equal(t, "team-b", results[1].TenantID)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 60, results[1].Result.SuccessfulUpdates)
	assert.Equal(t, 2, results[1].Result.Chunks)

	assert.Equal(t, "team-c", results[2].TenantID)
	assert.True(t, errors.Is(results[2].Err, carrier.ErrInvalidCredential))
}

func TestService_TrackCode(t *testing.T) {
	c := mock.New("test")
	svc := newTestService(c, fakeCredentialStore{"team-1": testCredential()}, newFakeOrderStore(), nil)

	obj, status, err := svc.TrackCode(context.Background(), "team-1", "AB123456789BR")
	require.NoError(t, err)
	assert.Equal(t, carrier.StatusPosted, status)
	assert.Equal(t, "AB123456789BR", obj.Code)
	assert.Equal(t, []carrier.ResultMode{carrier.ResultAll}, c.Modes())

	_, _, err = svc.TrackCode(context.Background(), "unknown", "AB123456789BR")
	assert.True(t, errors.Is(err, carrier.ErrCredentialNotFound))
}

func TestService_CheckCredentials(t *testing.T) {
	tests := []struct {
		name           string
		setup          func(c *mock.Client)
		cred           func() *carrier.Credential
		want           tracking.CredentialCheck
		checksTracking bool
	}{
		{
			name: "all stages pass",
			want: tracking.CredentialCheck{Success: true, BasicAuth: true, ContractAuth: true, TrackingAPI: true},
		},
		{
			name: "no contract stops after basic auth",
			cred: func() *carrier.Credential {
				cred := testCredential()
				cred.ContractNumber = ""
				return cred
			},
			want: tracking.CredentialCheck{Success: true, BasicAuth: true},
		},
		{
			name: "bad account credentials",
			setup: func(c *mock.Client) {
				c.OnAuthenticateBasic = func(ctx context.Context, cred *carrier.Credential) (*carrier.AuthToken, error) {
					return nil, carrier.NewError("test", carrier.ErrInvalidCredentials, "Invalid credentials: bad").WithStatusCode(401)
				}
			},
			want: tracking.CredentialCheck{Error: "Invalid credentials. Please check your CPF/CNPJ and access code."},
		},
		{
			name: "bad contract",
			setup: func(c *mock.Client) {
				c.OnAuthenticate = func(ctx context.Context, cred *carrier.Credential) (*carrier.AuthToken, error) {
					return nil, carrier.NewError("test", carrier.ErrInvalidRequest, "Invalid request parameters: contrato inexistente").WithStatusCode(400)
				}
			},
			want: tracking.CredentialCheck{
				BasicAuth: true,
				Error:     "Invalid contract number. Please verify your contract information.",
			},
		},
		{
			name: "tracking check fails",
			setup: func(c *mock.Client) {
				c.OnTrack = func(ctx context.Context, token string, codes []string, mode carrier.ResultMode) (*carrier.TrackingResponse, error) {
					return nil, carrier.NewError("test", carrier.ErrCarrierServer, "down")
				}
			},
			want: tracking.CredentialCheck{
				BasicAuth:    true,
				ContractAuth: true,
				Error:        "Failed to validate credentials. Please try again.",
			},
			checksTracking: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mock.New("test")
			if tt.setup != nil {
				tt.setup(c)
			}
			cred := testCredential()
			if tt.cred != nil {
				cred = tt.cred()
			}
			svc := newTestService(c, fakeCredentialStore{}, newFakeOrderStore(), nil)

			got := svc.CheckCredentials(context.Background(), cred)
			assert.Equal(t, tt.want, got)

			if tt.checksTracking {
				calls := c.TrackCalls()
				require.Len(t, calls, 1)
				assert.Equal(t, []string{tracking.ProbeTrackingCode}, calls[0])
			}
		})
	}
}

// contractOnlyCarrier hides the mock's AuthenticateBasic.
type contractOnlyCarrier struct {
	tracking.Carrier
}

func TestService_CheckCredentials_WithoutBasicAuth(t *testing.T) {
	c := mock.New("test")
	svc := newTestService(contractOnlyCarrier{c}, fakeCredentialStore{}, newFakeOrderStore(), nil)

	got := svc.CheckCredentials(context.Background(), testCredential())
	assert.Equal(t, tracking.CredentialCheck{Success: true, ContractAuth: true, TrackingAPI: true}, got)
	assert.Equal(t, 0, c.BasicCalls())
	assert.Equal(t, 1, c.AuthCalls())
}

func TestService_CheckTenantCredentials_NotFound(t *testing.T) {
	svc := newTestService(mock.New("test"), fakeCredentialStore{}, newFakeOrderStore(), nil)

	_, err := svc.CheckTenantCredentials(context.Background(), "team-x")
	assert.ErrorIs(t, err, carrier.ErrCredentialNotFound)
}

func TestService_Run(t *testing.T) {
	c := mock.New("test")
	store := newFakeOrderStore()
	store.orders["team-1"] = makeOrders(2)
	svc := newTestService(c, fakeCredentialStore{"team-1": testCredential()}, store, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := svc.Run(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.NotEmpty(t, c.TrackCalls(), "at least one tick must have synced")

	assert.Error(t, svc.Run(context.Background(), 0))
}

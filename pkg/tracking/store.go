// Package tracking synchronizes stored orders with a carrier's tracking API:
// token caching, provider-sized batching, per-chunk classification and
// grouped status writes.
package tracking

import (
	"context"
	"time"

	"github.com/tournevent/tracksync/pkg/carrier"
)

// CredentialStore looks up a tenant's carrier credential. Implementations
// return carrier.ErrCredentialNotFound when the tenant has none.
type CredentialStore interface {
	FindByTenant(ctx context.Context, tenantID string) (*carrier.Credential, error)
}

// OrderStore reads trackable orders and writes canonical statuses.
type OrderStore interface {
	// FindTrackable returns the tenant's orders that carry a tracking code.
	FindTrackable(ctx context.Context, tenantID string) ([]carrier.Order, error)

	// UpdateStatusMany sets shipping_status on every listed order and
	// returns how many rows were updated.
	UpdateStatusMany(ctx context.Context, orderIDs []string, status carrier.CanonicalStatus) (int, error)
}

// TenantLister enumerates tenants that have carrier credentials.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]string, error)
}

// Locker runs fn only if no other run holds key.
type Locker interface {
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Carrier is the carrier surface the engine drives.
type Carrier interface {
	carrier.Authenticator
	carrier.Tracker
}

// BasicAuthenticator is implemented by carriers that can validate account
// credentials without a contract.
type BasicAuthenticator interface {
	AuthenticateBasic(ctx context.Context, cred *carrier.Credential) (*carrier.AuthToken, error)
}

// Classifier maps newest-first events to a canonical status.
type Classifier func(events []carrier.TrackingEvent) carrier.CanonicalStatus

// Recorder receives engine metrics. telemetry.Metrics implements it.
type Recorder interface {
	RecordRun(outcome string, duration time.Duration)
	RecordChunk(outcome string, size int)
	RecordStatus(status carrier.CanonicalStatus, count int)
	RecordError(errorType string)
	RecordTokenRefresh()
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(string, time.Duration) {}
func (nopRecorder) RecordChunk(string, int) {}
func (nopRecorder) RecordStatus(carrier.CanonicalStatus, int) {}
func (nopRecorder) RecordError(string) {}
func (nopRecorder) RecordTokenRefresh() {}

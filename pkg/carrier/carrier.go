// Package carrier provides the carrier-neutral domain used by the tracking
// synchronization engine: credentials, tokens, tracking events, canonical
// statuses and the error taxonomy shared by carrier clients.
package carrier

import (
	"context"
)

// MaxCodesPerRequest is the provider's hard limit of tracking codes per
// multi-code lookup.
const MaxCodesPerRequest = 50

// Authenticator performs contract-scoped authentication against a carrier.
type Authenticator interface {
	Authenticate(ctx context.Context, cred *Credential) (*AuthToken, error)
}

// Tracker issues tracking queries for one or more codes.
type Tracker interface {
	Track(ctx context.Context, token string, codes []string, mode ResultMode) (*TrackingResponse, error)
}

// Client is the full surface a carrier integration exposes to the engine.
type Client interface {
	Authenticator
	Tracker

	// Name returns the carrier identifier (e.g., "correios").
	Name() string
}

// Package mock provides a scriptable carrier for testing.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tournevent/tracksync/pkg/carrier"
)

// Client is a mock carrier. Without hooks every credential authenticates
// with a token valid for TokenTTL and every code reports a single
// "Objeto postado" event.
type Client struct {
	name string

	TokenTTL time.Duration
	Now      func() time.Time

	OnAuthenticate      func(ctx context.Context, cred *carrier.Credential) (*carrier.AuthToken, error)
	OnAuthenticateBasic func(ctx context.Context, cred *carrier.Credential) (*carrier.AuthToken, error)
	OnTrack             func(ctx context.Context, token string, codes []string, mode carrier.ResultMode) (*carrier.TrackingResponse, error)

	mu         sync.Mutex
	authCalls  int
	basicCalls int
	trackCalls [][]string
	tokens     []string
	modes      []carrier.ResultMode
}

// New creates a new mock carrier.
func New(name string) *Client {
	return &Client{name: name, TokenTTL: time.Hour, Now: time.Now}
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return c.name
}

// Authenticate returns a mock contract token.
func (c *Client) Authenticate(ctx context.Context, cred *carrier.Credential) (*carrier.AuthToken, error) {
	c.mu.Lock()
	c.authCalls++
	n := c.authCalls
	c.mu.Unlock()

	if c.OnAuthenticate != nil {
		return c.OnAuthenticate(ctx, cred)
	}
	return &carrier.AuthToken{
		Token:     fmt.Sprintf("%s-token-%d", c.name, n),
		ExpiresAt: c.Now().Add(c.TokenTTL),
	}, nil
}

// AuthenticateBasic returns a mock account token.
func (c *Client) AuthenticateBasic(ctx context.Context, cred *carrier.Credential) (*carrier.AuthToken, error) {
	c.mu.Lock()
	c.basicCalls++
	c.mu.Unlock()

	if c.OnAuthenticateBasic != nil {
		return c.OnAuthenticateBasic(ctx, cred)
	}
	return &carrier.AuthToken{
		Token:     c.name + "-basic-token",
		ExpiresAt: c.Now().Add(c.TokenTTL),
	}, nil
}

// Track records the call and returns mock events.
func (c *Client) Track(ctx context.Context, token string, codes []string, mode carrier.ResultMode) (*carrier.TrackingResponse, error) {
	c.mu.Lock()
	c.trackCalls = append(c.trackCalls, append([]string(nil), codes...))
	c.tokens = append(c.tokens, token)
	c.modes = append(c.modes, mode)
	c.mu.Unlock()

	if c.OnTrack != nil {
		return c.OnTrack(ctx, token, codes, mode)
	}
	return Posted(codes, mode), nil
}

// AuthCalls returns how many contract authentications were made.
func (c *Client) AuthCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authCalls
}

// BasicCalls returns how many account authentications were made.
func (c *Client) BasicCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.basicCalls
}

// TrackCalls returns the codes of every Track call, in order.
func (c *Client) TrackCalls() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]string, len(c.trackCalls))
	copy(out, c.trackCalls)
	return out
}

// Tokens returns the bearer token used by every Track call, in order.
func (c *Client) Tokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tokens...)
}

// Modes returns the result mode of every Track call, in order.
func (c *Client) Modes() []carrier.ResultMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]carrier.ResultMode(nil), c.modes...)
}

// Posted builds a response with one "Objeto postado" event per code.
func Posted(codes []string, mode carrier.ResultMode) *carrier.TrackingResponse {
	return WithDescription(codes, mode, "Objeto postado")
}

// WithDescription builds a response where every code has a single event
// with the given description.
func WithDescription(codes []string, mode carrier.ResultMode, description string) *carrier.TrackingResponse {
	resp := &carrier.TrackingResponse{
		Quantity:   len(codes),
		ResultMode: mode,
		Objects:    make([]carrier.TrackedObject, 0, len(codes)),
	}
	for _, code := range codes {
		resp.Objects = append(resp.Objects, carrier.TrackedObject{
			Code: strings.ToUpper(code),
			Events: []carrier.TrackingEvent{{
				Code:        "PO",
				Type:        "01",
				Description: description,
				OccurredAt:  time.Now(),
				Origin:      carrier.Location{City: "SAO PAULO", State: "SP"},
			}},
		})
	}
	return resp
}

// Ensure Client implements the carrier interface
var _ carrier.Client = (*Client)(nil)

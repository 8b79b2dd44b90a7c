// Package correios provides integration with the Correios (Brazilian postal
// service) token and tracking (SRO Rastro) APIs.
package correios

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tournevent/tracksync/pkg/carrier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	carrierName = "correios"

	// DefaultBaseURL is the production API gateway.
	DefaultBaseURL = "https://api.correios.com.br"

	eventTimeLayout = "2006-01-02T15:04:05"
)

// Config holds Correios configuration.
type Config struct {
	BaseURL              string
	UseMock              bool
	Timeout              time.Duration
	MaxRequestsPerSecond float64
	BreakerEnabled       bool
	// Location interprets zone-less timestamps; defaults to America/Sao_Paulo.
	Location *time.Location
}

// Client is the Correios carrier client. It implements carrier.Client.
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
	loc       *time.Location
}

// New creates a new Correios client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultBaseURL
		}
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:              baseURL,
			Timeout:              cfg.Timeout,
			MaxRequestsPerSecond: cfg.MaxRequestsPerSecond,
			BreakerEnabled:       cfg.BreakerEnabled,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new Correios client with a custom API client.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if tracer == nil {
		tracer = otel.Tracer("github.com/tournevent/tracksync/pkg/carrier/correios")
	}
	loc := cfg.Location
	if loc == nil {
		loc = defaultLocation()
	}
	return &Client{
		config:    cfg,
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
		loc:       loc,
	}
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return carrierName
}

// Authenticate obtains a contract-scoped bearer token. The returned
// ExpiresAt is the carrier-reported expiry, without any safety margin.
func (c *Client) Authenticate(ctx context.Context, cred *carrier.Credential) (*carrier.AuthToken, error) {
	if cred == nil {
		return nil, carrier.ErrCredentialNotFound
	}

	ctx, span := c.tracer.Start(ctx, "correios.Authenticate",
		trace.WithAttributes(attribute.String("tenant.id", cred.TenantID)))
	defer span.End()

	c.logger.Info("Authenticating with Correios contract",
		zap.String("tenant_id", cred.TenantID),
		zap.Bool("regional_code", cred.RegionalCode != nil),
	)

	resp, err := c.apiClient.AuthenticateContract(ctx, basicCredentials(cred), &ContractRequest{
		Numero: strings.TrimSpace(cred.ContractNumber),
		DR:     cred.RegionalCode,
	})
	if err != nil {
		mapped := mapAuthError(err)
		c.logger.Error("Correios contract authentication failed", zap.Error(mapped))
		recordSpanError(span, mapped)
		return nil, mapped
	}

	token, err := c.tokenFromResponse(resp)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return token, nil
}

// AuthenticateBasic obtains an account-level token without contract scope.
// It is only used to validate credentials.
func (c *Client) AuthenticateBasic(ctx context.Context, cred *carrier.Credential) (*carrier.AuthToken, error) {
	if cred == nil {
		return nil, carrier.ErrCredentialNotFound
	}

	ctx, span := c.tracer.Start(ctx, "correios.AuthenticateBasic")
	defer span.End()

	resp, err := c.apiClient.AuthenticateBasic(ctx, basicCredentials(cred))
	if err != nil {
		mapped := mapAuthError(err)
		c.logger.Error("Correios basic authentication failed", zap.Error(mapped))
		recordSpanError(span, mapped)
		return nil, mapped
	}
	return c.tokenFromResponse(resp)
}

// Track queries up to carrier.MaxCodesPerRequest codes in one request.
// Chunking is the caller's job. A code missing from the response, or
// present without events, is "not found" and not an error.
func (c *Client) Track(ctx context.Context, token string, codes []string, mode carrier.ResultMode) (*carrier.TrackingResponse, error) {
	if len(codes) == 0 {
		return nil, carrier.NewError(carrierName, carrier.ErrInvalidRequest, "at least one tracking code is required")
	}
	if len(codes) > carrier.MaxCodesPerRequest {
		return nil, carrier.NewError(carrierName, carrier.ErrBatchTooLarge,
			fmt.Sprintf("Maximum of %d tracking codes allowed per request, got %d", carrier.MaxCodesPerRequest, len(codes)))
	}
	if mode != carrier.ResultAll {
		mode = carrier.ResultLatest
	}

	ctx, span := c.tracer.Start(ctx, "correios.Track", trace.WithAttributes(
		attribute.Int("codes.count", len(codes)),
		attribute.String("result_mode", string(mode)),
	))
	defer span.End()

	c.logger.Debug("Tracking Correios objects",
		zap.Int("count", len(codes)),
		zap.String("result", string(mode)),
	)

	resp, err := c.apiClient.TrackObjects(ctx, token, codes, string(mode))
	if err != nil {
		mapped := mapTrackError(err)
		c.logger.Error("Correios tracking request failed",
			zap.Int("count", len(codes)),
			zap.Error(mapped),
		)
		recordSpanError(span, mapped)
		return nil, mapped
	}

	out := c.objectsResponseToCarrier(resp, mode)
	span.SetAttributes(attribute.Int("objects.count", len(out.Objects)))
	return out, nil
}

// ============================================================================
// Conversion helpers
// ============================================================================

func basicCredentials(cred *carrier.Credential) BasicCredentials {
	return BasicCredentials{
		Identifier: strings.TrimSpace(cred.Identifier),
		AccessCode: strings.TrimSpace(cred.AccessCode),
	}
}

func (c *Client) tokenFromResponse(resp *TokenResponse) (*carrier.AuthToken, error) {
	if resp == nil || strings.TrimSpace(resp.Token) == "" {
		return nil, carrier.NewError(carrierName, carrier.ErrAuthenticationFailed, "carrier returned an empty token")
	}
	expiresAt, err := parseTimestamp(resp.ExpiraEm, c.loc)
	if err != nil {
		return nil, carrier.NewError(carrierName, carrier.ErrAuthenticationFailed,
			fmt.Sprintf("unreadable token expiry %q", resp.ExpiraEm)).WithCause(err)
	}
	return &carrier.AuthToken{
		Token:       resp.Token,
		ExpiresAt:   expiresAt,
		Environment: resp.Ambiente,
	}, nil
}

func (c *Client) objectsResponseToCarrier(resp *ObjectsResponse, mode carrier.ResultMode) *carrier.TrackingResponse {
	out := &carrier.TrackingResponse{ResultMode: mode}
	if resp == nil {
		return out
	}
	out.Quantity = resp.Quantidade
	out.Objects = make([]carrier.TrackedObject, 0, len(resp.Objetos))

	for _, obj := range resp.Objetos {
		code := strings.TrimSpace(obj.CodObjeto)
		if code == "" {
			c.logger.Warn("Dropping tracking object without code")
			continue
		}

		events := make([]carrier.TrackingEvent, 0, len(obj.Eventos))
		for _, ev := range obj.Eventos {
			occurredAt, err := parseTimestamp(ev.DtHrCriado, c.loc)
			if err != nil {
				c.logger.Debug("Unreadable event timestamp",
					zap.String("code", code),
					zap.String("dtHrCriado", ev.DtHrCriado),
				)
			}
			event := carrier.TrackingEvent{
				Code:        ev.Codigo,
				Type:        ev.Tipo,
				Description: ev.Descricao,
				OccurredAt:  occurredAt,
			}
			if ev.Unidade != nil {
				event.Origin = carrier.Location{City: ev.Unidade.Endereco.Cidade, State: ev.Unidade.Endereco.UF}
			}
			if ev.UnidadeDestino != nil {
				event.Destination = &carrier.Location{City: ev.UnidadeDestino.Endereco.Cidade, State: ev.UnidadeDestino.Endereco.UF}
			}
			events = append(events, event)
		}

		out.Objects = append(out.Objects, carrier.TrackedObject{
			Code:    code,
			Message: obj.Mensagem,
			Events:  events,
		})
	}
	return out
}

func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{eventTimeLayout, "2006-01-02T15:04:05.000"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func defaultLocation() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}

// ============================================================================
// Error mapping
// ============================================================================

func mapAuthError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Text()
		var e *carrier.Error
		switch {
		case apiErr.StatusCode == 400:
			e = carrier.NewError(carrierName, carrier.ErrInvalidRequest, "Invalid request parameters: "+msg)
		case apiErr.StatusCode == 401:
			e = carrier.NewError(carrierName, carrier.ErrInvalidCredentials, "Invalid credentials: "+msg)
		case apiErr.StatusCode == 429:
			e = carrier.NewError(carrierName, carrier.ErrRateLimited, "Too many requests. Please wait and try again.")
		case apiErr.StatusCode >= 500:
			e = carrier.NewError(carrierName, carrier.ErrCarrierServer, "Authentication server error: "+msg)
		default:
			e = carrier.NewError(carrierName, carrier.ErrAuthenticationFailed,
				fmt.Sprintf("Authentication failed (%d): %s", apiErr.StatusCode, msg))
		}
		return e.WithStatusCode(apiErr.StatusCode)
	}
	if errors.Is(err, ErrMalformedResponse) {
		return carrier.NewError(carrierName, carrier.ErrAuthenticationFailed, "unreadable authentication response").WithCause(err)
	}
	return carrier.NewError(carrierName, carrier.ErrTransport, "Network request failed").WithCause(err)
}

func mapTrackError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Text()
		var e *carrier.Error
		switch {
		case apiErr.StatusCode == 400:
			e = carrier.NewError(carrierName, carrier.ErrInvalidRequest, "Invalid request parameters: "+msg)
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			e = carrier.NewError(carrierName, carrier.ErrTokenRejected, "Authentication failed. Please check your credentials.")
		case apiErr.StatusCode == 429:
			e = carrier.NewError(carrierName, carrier.ErrRateLimited, "Too many requests. Please wait and try again.")
		case apiErr.StatusCode >= 500:
			e = carrier.NewError(carrierName, carrier.ErrCarrierServer, "Correios API server error: "+msg)
		default:
			e = carrier.NewError(carrierName, carrier.ErrRequestFailed,
				fmt.Sprintf("Failed to process request (%d): %s", apiErr.StatusCode, msg))
		}
		return e.WithStatusCode(apiErr.StatusCode)
	}
	if errors.Is(err, ErrMalformedResponse) {
		return carrier.NewError(carrierName, carrier.ErrRequestFailed, "unreadable tracking response").WithCause(err)
	}
	return carrier.NewError(carrierName, carrier.ErrTransport, "Network request failed").WithCause(err)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}

// Ensure Client implements carrier.Client interface
var _ carrier.Client = (*Client)(nil)

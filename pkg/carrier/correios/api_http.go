package correios

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	pathContractAuth = "/token/v1/autentica/contrato"
	pathBasicAuth    = "/token/v1/autentica"
	pathObjects      = "/srorastro/v1/objetos"
)

// ErrMalformedResponse indicates a 2xx response whose body could not be decoded.
var ErrMalformedResponse = errors.New("malformed response body")

// errServerStatus marks 5xx responses as breaker failures.
var errServerStatus = errors.New("server status")

// HTTPAPIClient is the production implementation of APIClient using HTTP/JSON.
type HTTPAPIClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	userAgent  string
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// MaxRequestsPerSecond paces outgoing calls; 0 disables pacing.
	MaxRequestsPerSecond float64
	// BreakerEnabled trips a circuit breaker after consecutive transport
	// or 5xx failures so a struggling carrier is not hammered.
	BreakerEnabled bool
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &HTTPAPIClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		userAgent:  "tracksync/1.0",
	}

	if cfg.MaxRequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), 1)
	}

	if cfg.BreakerEnabled {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "correios",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}

	return c
}

// AuthenticateContract performs contract-scoped authentication.
func (c *HTTPAPIClient) AuthenticateContract(ctx context.Context, basic BasicCredentials, req *ContractRequest) (*TokenResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal contract request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, pathContractAuth, nil, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Basic "+basicAuth(basic))

	var result TokenResponse
	if err := c.do(httpReq, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AuthenticateBasic performs account-level authentication.
func (c *HTTPAPIClient) AuthenticateBasic(ctx context.Context, basic BasicCredentials) (*TokenResponse, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, pathBasicAuth, nil, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Basic "+basicAuth(basic))

	var result TokenResponse
	if err := c.do(httpReq, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TrackObjects queries tracking events for codes.
// GET /srorastro/v1/objetos?codigosObjetos=A&codigosObjetos=B&resultado=U
func (c *HTTPAPIClient) TrackObjects(ctx context.Context, token string, codes []string, result string) (*ObjectsResponse, error) {
	query := url.Values{}
	for _, code := range codes {
		query.Add("codigosObjetos", code)
	}
	query.Set("resultado", result)

	httpReq, err := c.newRequest(ctx, http.MethodGet, pathObjects, query, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	var out ObjectsResponse
	if err := c.do(httpReq, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPAPIClient) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

type rawResponse struct {
	status int
	body   []byte
}

// do paces, sends and decodes a request. Non-2xx responses become *APIError;
// transport failures are returned as-is.
func (c *HTTPAPIClient) do(req *http.Request, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return err
		}
	}

	var (
		raw *rawResponse
		err error
	)
	if c.breaker != nil {
		var res interface{}
		res, err = c.breaker.Execute(func() (interface{}, error) {
			return c.send(req)
		})
		if r, ok := res.(*rawResponse); ok {
			raw = r
		}
		if errors.Is(err, errServerStatus) {
			err = nil
		}
	} else {
		raw, err = c.send(req)
		if errors.Is(err, errServerStatus) {
			err = nil
		}
	}
	if err != nil {
		return err
	}

	if raw.status < 200 || raw.status > 299 {
		return parseError(raw)
	}

	if err := json.Unmarshal(raw.body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func (c *HTTPAPIClient) send(req *http.Request) (*rawResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	raw := &rawResponse{status: resp.StatusCode, body: body}
	if resp.StatusCode >= 500 {
		return raw, errServerStatus
	}
	return raw, nil
}

// parseError extracts error information from a non-2xx response.
func parseError(raw *rawResponse) error {
	apiErr := &APIError{StatusCode: raw.status}
	if err := json.Unmarshal(raw.body, apiErr); err != nil || (len(apiErr.Msgs) == 0 && apiErr.Message == "") {
		apiErr.Msgs = nil
		apiErr.Message = strings.TrimSpace(string(raw.body))
	}
	apiErr.StatusCode = raw.status
	return apiErr
}

func basicAuth(b BasicCredentials) string {
	pair := strings.TrimSpace(b.Identifier) + ":" + strings.TrimSpace(b.AccessCode)
	return base64.StdEncoding.EncodeToString([]byte(pair))
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)

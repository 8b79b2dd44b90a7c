package carrier

import (
	"errors"
	"fmt"
)

// Error represents an error reported by (or while talking to) a carrier.
type Error struct {
	Carrier    string
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Kind       error
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error (%s): %s: %v", e.Carrier, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error (%s): %s", e.Carrier, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code, or the sentinel the error was
// classified as.
func (e *Error) Is(target error) bool {
	if e.Kind != nil && target == e.Kind {
		return true
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new carrier error classified as kind.
func NewError(carrierName string, kind error, message string) *Error {
	code := "UNKNOWN"
	if c, ok := codes[kind]; ok {
		code = c
	}
	return &Error{
		Carrier:   carrierName,
		Code:      code,
		Message:   message,
		Kind:      kind,
		Retryable: kind == ErrRateLimited || kind == ErrCarrierServer || kind == ErrTransport,
	}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithStatusCode adds an HTTP status code to the error.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// WithRetryable overrides the retryable flag.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Sentinel errors for the carrier error taxonomy.
var (
	// ErrInvalidRequest indicates the carrier rejected request parameters (400).
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrInvalidCredentials indicates the carrier rejected the account credentials (401).
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrRateLimited indicates the carrier asked us to back off (429).
	ErrRateLimited = errors.New("rate limited")

	// ErrCarrierServer indicates a carrier-side failure (5xx).
	ErrCarrierServer = errors.New("carrier server error")

	// ErrAuthenticationFailed covers any other authentication rejection.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrTokenRejected indicates the bearer token is invalid or expired (403).
	ErrTokenRejected = errors.New("bearer token rejected")

	// ErrRequestFailed covers any other tracking request rejection.
	ErrRequestFailed = errors.New("request failed")

	// ErrBatchTooLarge indicates more codes than the provider accepts per request.
	ErrBatchTooLarge = errors.New("too many tracking codes in one request")

	// ErrTransport indicates no response was received from the carrier.
	ErrTransport = errors.New("transport failure")

	// ErrAuth is the umbrella error for a failure to obtain a token. A run
	// that hits it stops issuing carrier calls.
	ErrAuth = errors.New("carrier authentication error")

	// ErrCredentialNotFound indicates the tenant has no carrier credential.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrInvalidCredential indicates a stored credential fails validation.
	ErrInvalidCredential = errors.New("invalid credential")
)

var codes = map[error]string{
	ErrInvalidRequest:       "INVALID_REQUEST",
	ErrInvalidCredentials:   "INVALID_CREDENTIALS",
	ErrRateLimited:          "RATE_LIMITED",
	ErrCarrierServer:        "SERVER_ERROR",
	ErrAuthenticationFailed: "AUTHENTICATION_FAILED",
	ErrTokenRejected:        "TOKEN_REJECTED",
	ErrRequestFailed:        "REQUEST_FAILED",
	ErrBatchTooLarge:        "BATCH_TOO_LARGE",
	ErrTransport:            "TRANSPORT_ERROR",
}

// ErrorType returns a short label for metrics.
func ErrorType(err error) string {
	var carrierErr *Error
	if errors.As(err, &carrierErr) {
		return carrierErr.Code
	}
	switch {
	case errors.Is(err, ErrCredentialNotFound):
		return "CREDENTIAL_NOT_FOUND"
	case errors.Is(err, ErrInvalidCredential):
		return "INVALID_CREDENTIAL"
	case errors.Is(err, ErrAuth):
		return "AUTH"
	}
	return "UNKNOWN"
}

// IsRetryable returns true if the error is retryable by a caller.
func IsRetryable(err error) bool {
	var carrierErr *Error
	if errors.As(err, &carrierErr) {
		return carrierErr.Retryable
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrCarrierServer) || errors.Is(err, ErrTransport)
}

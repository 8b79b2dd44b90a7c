package carrier

import (
	"strings"
	"time"
)

// CanonicalStatus is the system's closed set of shipment states.
type CanonicalStatus string

const (
	StatusPosted    CanonicalStatus = "POSTED"
	StatusInTransit CanonicalStatus = "IN_TRANSIT"
	StatusDelivered CanonicalStatus = "DELIVERED"
	StatusNotFound  CanonicalStatus = "NOT_FOUND"
	StatusUnknown   CanonicalStatus = "UNKNOWN"
)

// Statuses lists every canonical status in a stable order.
var Statuses = []CanonicalStatus{
	StatusPosted,
	StatusInTransit,
	StatusDelivered,
	StatusNotFound,
	StatusUnknown,
}

// Valid reports whether s is one of the canonical statuses.
func (s CanonicalStatus) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// ParseStatus maps stored text back to a canonical status. Anything outside
// the closed set is UNKNOWN.
func ParseStatus(s string) CanonicalStatus {
	st := CanonicalStatus(strings.ToUpper(strings.TrimSpace(s)))
	if st.Valid() {
		return st
	}
	return StatusUnknown
}

// ResultMode selects how many events the carrier returns per code.
type ResultMode string

const (
	ResultLatest ResultMode = "U" // latest event only
	ResultAll    ResultMode = "T" // full history
)

// Credential holds a tenant's carrier account. Read-only for a sync run.
type Credential struct {
	TenantID       string
	Identifier     string `validate:"required,min=11,max=14"` // CPF/CNPJ
	AccessCode     string `validate:"required"`
	ContractNumber string `validate:"required"`
	RegionalCode   *int   `validate:"omitempty,gt=0"`
}

// AuthToken is a carrier bearer token. An Authenticator reports the carrier's
// expiry; a token cache stores it with its safety margin subtracted.
type AuthToken struct {
	Token       string
	ExpiresAt   time.Time
	Environment string
}

// ValidAt reports whether the token may still be used at now.
func (t *AuthToken) ValidAt(now time.Time) bool {
	return t != nil && t.Token != "" && now.Before(t.ExpiresAt)
}

// Location is a carrier unit address.
type Location struct {
	City  string
	State string
}

// TrackingEvent is a single carrier-reported event.
type TrackingEvent struct {
	Code        string
	Type        string
	Description string
	OccurredAt  time.Time
	Origin      Location
	Destination *Location
}

// TrackedObject holds the events the carrier returned for one code,
// newest first.
type TrackedObject struct {
	Code    string
	Message string // carrier note, e.g. "object not found"
	Events  []TrackingEvent
}

// TrackingResponse is the validated result of a tracking query.
type TrackingResponse struct {
	Quantity   int
	ResultMode ResultMode
	Objects    []TrackedObject
}

// Find returns the object for code. Codes are matched case-insensitively.
func (r *TrackingResponse) Find(code string) (*TrackedObject, bool) {
	if r == nil {
		return nil, false
	}
	for i := range r.Objects {
		if strings.EqualFold(r.Objects[i].Code, code) {
			return &r.Objects[i], true
		}
	}
	return nil, false
}

// Order is the slice of a stored order the engine reads and updates.
type Order struct {
	ID             string
	TenantID       string
	TrackingCode   *string
	ShippingStatus CanonicalStatus
	UpdatedAt      time.Time
}

// Trackable reports whether the order carries a usable tracking code.
func (o Order) Trackable() bool {
	return o.TrackingCode != nil && strings.TrimSpace(*o.TrackingCode) != ""
}

// Code returns the trimmed tracking code, or "" when absent.
func (o Order) Code() string {
	if o.TrackingCode == nil {
		return ""
	}
	return strings.TrimSpace(*o.TrackingCode)
}

// BatchResult is the outcome of one orchestration run.
type BatchResult struct {
	TotalProcessed    int
	SuccessfulUpdates int

	Chunks       int
	FailedChunks int
	Aborted      bool
	ByStatus     map[CanonicalStatus]int
}

// Failed returns the number of processed orders that were not updated.
func (r BatchResult) Failed() int {
	return r.TotalProcessed - r.SuccessfulUpdates
}

package carrier_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/tracksync/pkg/carrier"
)

func strPtr(s string) *string { return &s }

func TestParseStatus(t *testing.T) {
	assert.Equal(t, carrier.StatusDelivered, carrier.ParseStatus("delivered"))
	assert.Equal(t, carrier.StatusInTransit, carrier.ParseStatus(" IN_TRANSIT "))
	assert.Equal(t, carrier.StatusUnknown, carrier.ParseStatus("Enviado!"))
	assert.Equal(t, carrier.StatusUnknown, carrier.ParseStatus(""))
}

func TestAuthToken_ValidAt(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	var nilToken *carrier.AuthToken
	assert.False(t, nilToken.ValidAt(now))
	assert.True(t, (&carrier.AuthToken{Token: "t", ExpiresAt: now.Add(time.Second)}).ValidAt(now))
	assert.False(t, (&carrier.AuthToken{Token: "t", ExpiresAt: now}).ValidAt(now))
	assert.False(t, (&carrier.AuthToken{ExpiresAt: now.Add(time.Hour)}).ValidAt(now))
}

func TestOrder_Trackable(t *testing.T) {
	assert.False(t, carrier.Order{ID: "1"}.Trackable())
	assert.False(t, carrier.Order{ID: "1", TrackingCode: strPtr("   ")}.Trackable())

	o := carrier.Order{ID: "1", TrackingCode: strPtr(" AA123456789BR ")}
	assert.True(t, o.Trackable())
	assert.Equal(t, "AA123456789BR", o.Code())
}

func TestTrackingResponse_Find(t *testing.T) {
	resp := &carrier.TrackingResponse{
		Objects: []carrier.TrackedObject{
			{Code: "AA123456789BR"},
			{Code: "BB987654321BR", Events: []carrier.TrackingEvent{{Description: "Objeto postado"}}},
		},
	}

	obj, ok := resp.Find("bb987654321br")
	require.True(t, ok)
	assert.Len(t, obj.Events, 1)

	_, ok = resp.Find("CC000000000BR")
	assert.False(t, ok)

	var nilResp *carrier.TrackingResponse
	_, ok = nilResp.Find("AA123456789BR")
	assert.False(t, ok)
}

func TestCredential_Validate(t *testing.T) {
	dr := 20
	valid := &carrier.Credential{
		TenantID:       "team-1",
		Identifier:     "12345678901",
		AccessCode:     "secret",
		ContractNumber: "9912345678",
		RegionalCode:   &dr,
	}
	require.NoError(t, valid.Validate())

	var missing *carrier.Credential
	assert.True(t, errors.Is(missing.Validate(), carrier.ErrCredentialNotFound))

	short := *valid
	short.Identifier = "123"
	err := short.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, carrier.ErrInvalidCredential))
	assert.Contains(t, err.Error(), "Identifier")

	noContract := *valid
	noContract.ContractNumber = "   "
	assert.True(t, errors.Is(noContract.Validate(), carrier.ErrInvalidCredential))

	badDR := *valid
	zero := 0
	badDR.RegionalCode = &zero
	assert.True(t, errors.Is(badDR.Validate(), carrier.ErrInvalidCredential))
}

func TestBatchResult_Failed(t *testing.T) {
	r := carrier.BatchResult{TotalProcessed: 10, SuccessfulUpdates: 7}
	assert.Equal(t, 3, r.Failed())
}

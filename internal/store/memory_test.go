package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/tracksync/internal/store"
	"github.com/tournevent/tracksync/pkg/carrier"
)

func strPtr(s string) *string { return &s }

func TestMemory_Credentials(t *testing.T) {
	m := store.NewMemory()
	m.PutCredential(carrier.Credential{TenantID: "team-b", Identifier: "12345678901"})
	m.PutCredential(carrier.Credential{TenantID: "team-a", Identifier: "12345678902"})

	cred, err := m.FindByTenant(context.Background(), "team-a")
	require.NoError(t, err)
	assert.Equal(t, "12345678902", cred.Identifier)

	_, err = m.FindByTenant(context.Background(), "team-x")
	assert.ErrorIs(t, err, carrier.ErrCredentialNotFound)

	tenants, err := m.ListTenants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"team-a", "team-b"}, tenants)
}

func TestMemory_Orders(t *testing.T) {
	m := store.NewMemory()
	m.PutOrder(carrier.Order{ID: "o-2", TenantID: "team-a", TrackingCode: strPtr("AB000000002BR")})
	m.PutOrder(carrier.Order{ID: "o-1", TenantID: "team-a", TrackingCode: strPtr("AB000000001BR")})
	m.PutOrder(carrier.Order{ID: "o-3", TenantID: "team-a"})
	m.PutOrder(carrier.Order{ID: "o-4", TenantID: "team-b", TrackingCode: strPtr("AB000000004BR")})

	orders, err := m.FindTrackable(context.Background(), "team-a")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "o-1", orders[0].ID)
	assert.Equal(t, "o-2", orders[1].ID)

	n, err := m.UpdateStatusMany(context.Background(), []string{"o-1", "o-2", "missing"}, carrier.StatusInTransit)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	o, ok := m.Order("o-1")
	require.True(t, ok)
	assert.Equal(t, carrier.StatusInTransit, o.ShippingStatus)
	assert.False(t, o.UpdatedAt.IsZero())
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tournevent/tracksync/pkg/carrier"
	"github.com/tournevent/tracksync/pkg/tracking"
)

// Memory is an in-memory store used when no database is configured.
type Memory struct {
	mu          sync.RWMutex
	credentials map[string]carrier.Credential
	orders      map[string]carrier.Order
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		credentials: make(map[string]carrier.Credential),
		orders:      make(map[string]carrier.Order),
	}
}

// PutCredential stores cred under cred.TenantID.
func (m *Memory) PutCredential(cred carrier.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[cred.TenantID] = cred
}

// PutOrder stores or replaces an order.
func (m *Memory) PutOrder(o carrier.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

// Order returns the stored order with id.
func (m *Memory) Order(id string) (carrier.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	return o, ok
}

// FindByTenant returns a copy of the tenant's credential.
func (m *Memory) FindByTenant(ctx context.Context, tenantID string) (*carrier.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.credentials[tenantID]
	if !ok {
		return nil, carrier.ErrCredentialNotFound
	}
	return &cred, nil
}

// ListTenants returns every tenant with a credential, sorted.
func (m *Memory) ListTenants(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tenants := make([]string, 0, len(m.credentials))
	for id := range m.credentials {
		tenants = append(tenants, id)
	}
	sort.Strings(tenants)
	return tenants, nil
}

// FindTrackable returns the tenant's trackable orders sorted by ID.
func (m *Memory) FindTrackable(ctx context.Context, tenantID string) ([]carrier.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carrier.Order
	for _, o := range m.orders {
		if o.TenantID == tenantID && o.Trackable() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateStatusMany sets status on every known order in orderIDs.
func (m *Memory) UpdateStatusMany(ctx context.Context, orderIDs []string, status carrier.CanonicalStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	n := 0
	for _, id := range orderIDs {
		o, ok := m.orders[id]
		if !ok {
			continue
		}
		o.ShippingStatus = status
		o.UpdatedAt = now
		m.orders[id] = o
		n++
	}
	return n, nil
}

var (
	_ tracking.CredentialStore = (*Memory)(nil)
	_ tracking.OrderStore      = (*Memory)(nil)
	_ tracking.TenantLister    = (*Memory)(nil)
)

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"inventory-decision-engine/internal/models"
)

// MemoryStore keeps every repository in process. It enforces the same
// one-open-session rule as the Postgres schema.
type MemoryStore struct {
	mu           sync.RWMutex
	products     map[string]map[string]models.Product
	sales        map[string][]models.SaleEvent
	interactions map[string][]models.InteractionEvent
	sessions     map[string]*models.FreezeSession
	openByTenant map[string]string
	blocked      map[string][]models.BlockedAction
	cash         map[string]models.CashPosition
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[string]map[string]models.Product),
		sales:        make(map[string][]models.SaleEvent),
		interactions: make(map[string][]models.InteractionEvent),
		sessions:     make(map[string]*models.FreezeSession),
		openByTenant: make(map[string]string),
		blocked:      make(map[string][]models.BlockedAction),
		cash:         make(map[string]models.CashPosition),
	}
}

// ListTenants returns every tenant with at least one product
func (m *MemoryStore) ListTenants(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenants := make([]string, 0, len(m.products))
	for id := range m.products {
		tenants = append(tenants, id)
	}
	sort.Strings(tenants)
	return tenants, nil
}

// UpsertProduct creates or replaces a catalog entry
func (m *MemoryStore) UpsertProduct(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	catalog, ok := m.products[p.TenantID]
	if !ok {
		catalog = make(map[string]models.Product)
		m.products[p.TenantID] = catalog
	}
	stored := *p
	stored.Category = ""
	stored.VelocityDaily = 0
	if prev, ok := catalog[p.SKU]; ok && stored.LastSaleDate == nil {
		stored.LastSaleDate = prev.LastSaleDate
	}
	catalog[p.SKU] = stored
	return nil
}

// ListProducts retrieves a tenant's catalog ordered by SKU
func (m *MemoryStore) ListProducts(_ context.Context, tenantID string) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	products := make([]models.Product, 0, len(m.products[tenantID]))
	for _, p := range m.products[tenantID] {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].SKU < products[j].SKU })
	return products, nil
}

// GetProduct retrieves one product
func (m *MemoryStore) GetProduct(_ context.Context, tenantID, sku string) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[tenantID][sku]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", sku, models.ErrNotFound)
	}
	return &p, nil
}

// RecordSale appends a ledger row and advances the product's last sale date
func (m *MemoryStore) RecordSale(_ context.Context, sale *models.SaleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sales[sale.TenantID] {
		if s.ID == sale.ID {
			return nil
		}
	}
	m.sales[sale.TenantID] = append(m.sales[sale.TenantID], *sale)

	if p, ok := m.products[sale.TenantID][sale.SKU]; ok {
		if p.LastSaleDate == nil || sale.SoldAt.After(*p.LastSaleDate) {
			soldAt := sale.SoldAt
			p.LastSaleDate = &soldAt
			m.products[sale.TenantID][sale.SKU] = p
		}
	}
	return nil
}

// Query returns a product's sales since the given time, oldest first
func (m *MemoryStore) Query(_ context.Context, tenantID, sku string, since time.Time) ([]models.SaleEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.SaleEvent
	for _, s := range m.sales[tenantID] {
		if s.SKU == sku && !s.SoldAt.Before(since) {
			out = append(out, s)
		}
	}
	sortSales(out)
	return out, nil
}

// QueryTenant returns all of a tenant's sales in [since, until], oldest first
func (m *MemoryStore) QueryTenant(_ context.Context, tenantID string, since, until time.Time) ([]models.SaleEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.SaleEvent
	for _, s := range m.sales[tenantID] {
		if !s.SoldAt.Before(since) && !s.SoldAt.After(until) {
			out = append(out, s)
		}
	}
	sortSales(out)
	return out, nil
}

// AppendInteraction stores one interaction event
func (m *MemoryStore) AppendInteraction(_ context.Context, e *models.InteractionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.interactions[e.UserID] = append(m.interactions[e.UserID], *e)
	return nil
}

// ListInteractions returns a user's interactions at or after since
func (m *MemoryStore) ListInteractions(_ context.Context, userID string, since time.Time) ([]models.InteractionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.InteractionEvent
	for _, e := range m.interactions[userID] {
		if !e.OccurredAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// OpenSession inserts a new open session
func (m *MemoryStore) OpenSession(_ context.Context, session *models.FreezeSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, open := m.openByTenant[session.TenantID]; open {
		return models.ErrSessionAlreadyOpen
	}
	stored := *session
	stored.EndedAt = nil
	m.sessions[session.ID] = &stored
	m.openByTenant[session.TenantID] = session.ID
	return nil
}

// CloseSession ends the tenant's open session
func (m *MemoryStore) CloseSession(_ context.Context, tenantID string, endedAt time.Time) (*models.FreezeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, open := m.openByTenant[tenantID]
	if !open {
		return nil, models.ErrNoOpenSession
	}
	session := m.sessions[id]
	ended := endedAt
	session.EndedAt = &ended
	delete(m.openByTenant, tenantID)

	cp := *session
	return &cp, nil
}

// GetOpenSession returns the tenant's open session, or nil when it has none
func (m *MemoryStore) GetOpenSession(_ context.Context, tenantID string) (*models.FreezeSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, open := m.openByTenant[tenantID]
	if !open {
		return nil, nil
	}
	cp := *m.sessions[id]
	return &cp, nil
}

// GetSession retrieves a session by ID
func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*models.FreezeSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("freeze session %s: %w", sessionID, models.ErrNotFound)
	}
	cp := *session
	return &cp, nil
}

// ListSessions returns a tenant's sessions, newest first
func (m *MemoryStore) ListSessions(_ context.Context, tenantID string) ([]models.FreezeSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.FreezeSession
	for _, s := range m.sessions {
		if s.TenantID == tenantID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// SavePostMortem stores the analysis only when none is stored yet
func (m *MemoryStore) SavePostMortem(_ context.Context, sessionID string, figures models.PostMortemFigures) (*models.FreezeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("freeze session %s: %w", sessionID, models.ErrNotFound)
	}
	if session.OpportunityCost == nil {
		f := figures
		session.OpportunityCost = &f.OpportunityCost
		session.Recommendation = &f.Recommendation
		session.Analysis = &f
	}
	cp := *session
	return &cp, nil
}

// MarkPostMortemSent flips the notification flag once
func (m *MemoryStore) MarkPostMortemSent(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return false, fmt.Errorf("freeze session %s: %w", sessionID, models.ErrNotFound)
	}
	if session.PostMortemSent {
		return false, nil
	}
	session.PostMortemSent = true
	return true, nil
}

// RecordBlockedAction appends a blocked execution request
func (m *MemoryStore) RecordBlockedAction(_ context.Context, a *models.BlockedAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[a.SessionID]; !ok {
		return fmt.Errorf("freeze session %s: %w", a.SessionID, models.ErrNotFound)
	}
	m.blocked[a.SessionID] = append(m.blocked[a.SessionID], *a)
	return nil
}

// ListBlockedActions returns the requests blocked during a session
func (m *MemoryStore) ListBlockedActions(_ context.Context, sessionID string) ([]models.BlockedAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.BlockedAction, len(m.blocked[sessionID]))
	copy(out, m.blocked[sessionID])
	return out, nil
}

// CashPosition returns the tenant's latest cash position
func (m *MemoryStore) CashPosition(_ context.Context, tenantID string) (*models.CashPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.cash[tenantID]
	if !ok {
		return nil, fmt.Errorf("cash position for %s: %w", tenantID, models.ErrNotFound)
	}
	return &pos, nil
}

// SaveCashPosition replaces the tenant's cash position when it is not older
// than the stored one
func (m *MemoryStore) SaveCashPosition(_ context.Context, pos *models.CashPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.cash[pos.TenantID]; ok && pos.AsOf.Before(prev.AsOf) {
		return nil
	}
	m.cash[pos.TenantID] = *pos
	return nil
}

func sortSales(sales []models.SaleEvent) {
	sort.SliceStable(sales, func(i, j int) bool { return sales[i].SoldAt.Before(sales[j].SoldAt) })
}

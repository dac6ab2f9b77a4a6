package service

import (
	"sync"

	"inventory-decision-engine/internal/models"
)

// GuardState is the liquidity guard state of one tenant
type GuardState string

const (
	GuardNormal GuardState = "NORMAL"
	GuardFrozen GuardState = "FROZEN"
)

// TenantState is owned by the caller and passed to every guard operation.
// Its mutex serializes transitions for the tenant within the process.
type TenantState struct {
	TenantID string

	mu      sync.Mutex
	state   GuardState
	session *models.FreezeSession
}

// NewTenantState creates a NORMAL state for a tenant
func NewTenantState(tenantID string) *TenantState {
	return &TenantState{TenantID: tenantID, state: GuardNormal}
}

// State returns the current guard state
func (s *TenantState) State() GuardState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OpenSession returns a copy of the open freeze session, or nil
func (s *TenantState) OpenSession() *models.FreezeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	cp := *s.session
	return &cp
}

// adopt must be called with mu held
func (s *TenantState) adopt(open *models.FreezeSession) {
	if open != nil && open.IsOpen() {
		s.state = GuardFrozen
		s.session = open
		return
	}
	s.state = GuardNormal
	s.session = nil
}

// TenantRegistry hands out one TenantState per tenant for long-lived callers
// such as the HTTP adapter and the scheduler
type TenantRegistry struct {
	mu     sync.Mutex
	states map[string]*TenantState
}

// NewTenantRegistry creates an empty registry
func NewTenantRegistry() *TenantRegistry {
	return &TenantRegistry{states: make(map[string]*TenantState)}
}

// Get returns the tenant's state, creating it on first use
func (r *TenantRegistry) Get(tenantID string) *TenantState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[tenantID]
	if !ok {
		st = NewTenantState(tenantID)
		r.states[tenantID] = st
	}
	return st
}

// Tenants lists the tenants seen so far
func (r *TenantRegistry) Tenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.states))
	for id := range r.states {
		out = append(out, id)
	}
	return out
}

package orgs

import (
	"context"
	"sync"
	"time"

	id "timbre/pkg/domain"
	"timbre/pkg/platform/sentinel"
)

type memKey struct {
	tenantID id.TenantID
	provider string
}

// InMemory is a map-backed store for tests and single-node development.
type InMemory struct {
	mu   sync.Mutex
	orgs map[memKey]Organization
}

// NewInMemory constructs an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{orgs: make(map[memKey]Organization)}
}

func (s *InMemory) Create(_ context.Context, org *Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey{tenantID: org.TenantID, provider: org.Provider}
	if _, exists := s.orgs[key]; exists {
		return sentinel.ErrConflict
	}
	s.orgs[key] = *org
	return nil
}

func (s *InMemory) FindByTenant(_ context.Context, tenantID id.TenantID, providerName string) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[memKey{tenantID: tenantID, provider: providerName}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &org, nil
}

func (s *InMemory) SetLiveCredential(_ context.Context, tenantID id.TenantID, providerName, apiKey string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey{tenantID: tenantID, provider: providerName}
	org, ok := s.orgs[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	org.APIKey = apiKey
	org.UpdatedAt = now
	s.orgs[key] = org
	return nil
}

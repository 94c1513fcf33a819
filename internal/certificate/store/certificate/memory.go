package certificate

import (
	"context"
	"sort"
	"strings"
	"sync"

	"timbre/internal/certificate/models"
	id "timbre/pkg/domain"
	"timbre/pkg/platform/sentinel"
)

// InMemory is a map-backed store for tests and single-node development.
type InMemory struct {
	mu      sync.RWMutex
	records map[id.CertificateID]models.Record
}

// NewInMemory constructs an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{records: make(map[id.CertificateID]models.Record)}
}

func (s *InMemory) Create(_ context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.SerialNumber == record.SerialNumber {
			return sentinel.ErrConflict
		}
		if record.TaxID != "" &&
			strings.EqualFold(existing.TaxID, record.TaxID) &&
			existing.TenantID != record.TenantID {
			return sentinel.ErrConflict
		}
	}
	s.records[record.ID] = *record
	return nil
}

func (s *InMemory) FindByID(_ context.Context, certID id.CertificateID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &record, nil
}

func (s *InMemory) FindUsableByTenant(_ context.Context, tenantID id.TenantID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []models.Record
	for _, record := range s.records {
		if record.TenantID == tenantID && record.IsActive && record.IsValidated {
			candidates = append(candidates, record)
		}
	}
	if len(candidates) == 0 {
		return nil, sentinel.ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return &candidates[0], nil
}

func (s *InMemory) ListByTenant(_ context.Context, tenantID id.TenantID) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Record
	for _, record := range s.records {
		if record.TenantID == tenantID {
			r := record
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemory) Apply(_ context.Context, certID id.CertificateID, mutate func(models.Record) (models.Record, error)) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	next, err := mutate(current)
	if err != nil {
		return nil, err
	}
	s.records[certID] = next
	return &next, nil
}

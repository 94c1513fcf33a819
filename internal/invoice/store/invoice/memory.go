package invoice

import (
	"context"
	"sort"
	"sync"

	"timbre/internal/invoice/models"
	id "timbre/pkg/domain"
	"timbre/pkg/platform/sentinel"
)

// InMemory is a map-backed store for tests and single-node development.
type InMemory struct {
	mu       sync.Mutex
	invoices map[id.InvoiceID]models.Invoice
	folios   map[id.TenantID]int64
}

// NewInMemory constructs an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		invoices: make(map[id.InvoiceID]models.Invoice),
		folios:   make(map[id.TenantID]int64),
	}
}

func (s *InMemory) CreateWithFolio(_ context.Context, invoice *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.folios[invoice.TenantID] + 1
	s.folios[invoice.TenantID] = next
	invoice.Folio = next
	s.invoices[invoice.ID] = *invoice
	return nil
}

func (s *InMemory) FindByID(_ context.Context, invoiceID id.InvoiceID) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoices[invoiceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &invoice, nil
}

func (s *InMemory) FindByFiscalID(_ context.Context, fiscalID string) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fiscalID == "" {
		return nil, sentinel.ErrNotFound
	}
	for _, invoice := range s.invoices {
		if invoice.FiscalID == fiscalID {
			inv := invoice
			return &inv, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) ListByStatus(_ context.Context, status models.Status) ([]*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Invoice
	for _, invoice := range s.invoices {
		if invoice.Status == status {
			inv := invoice
			out = append(out, &inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemory) Apply(_ context.Context, invoiceID id.InvoiceID, mutate func(models.Invoice) (models.Invoice, error)) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.invoices[invoiceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	next, err := mutate(current)
	if err != nil {
		return nil, err
	}
	s.invoices[invoiceID] = next
	return &next, nil
}

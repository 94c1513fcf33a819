// Package invoice provides invoice persistence and per-tenant folio
// allocation.
//
// Folio numbers are the only shared mutable resource in the issuance flow.
// Allocation happens inside CreateWithFolio under a per-tenant exclusive
// lock (a mutex in memory, a row lock in PostgreSQL) so concurrent issuance
// for the same tenant can never produce duplicate folios.
package invoice

import (
	"context"

	"timbre/internal/invoice/models"
	id "timbre/pkg/domain"
)

// Store persists invoices.
type Store interface {
	// CreateWithFolio allocates the tenant's next folio and inserts the
	// invoice in a single atomic step, setting invoice.Folio.
	CreateWithFolio(ctx context.Context, invoice *models.Invoice) error

	// FindByID returns the invoice or sentinel.ErrNotFound.
	FindByID(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error)

	// FindByFiscalID returns the invoice carrying the provider-assigned
	// fiscal id, or sentinel.ErrNotFound.
	FindByFiscalID(ctx context.Context, fiscalID string) (*models.Invoice, error)

	// ListByStatus returns invoices in the given status, oldest first.
	// Reconciliation uses this to find records stuck in StatusStamping.
	ListByStatus(ctx context.Context, status models.Status) ([]*models.Invoice, error)

	// Apply persists a transitioned snapshot under the store's lock.
	Apply(ctx context.Context, invoiceID id.InvoiceID, mutate func(models.Invoice) (models.Invoice, error)) (*models.Invoice, error)
}

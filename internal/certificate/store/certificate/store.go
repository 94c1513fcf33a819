// Package certificate provides storage for certificate records.
//
// Stores return pkg/platform/sentinel errors for infrastructure facts
// (not found, conflict); the service layer translates them into domain
// errors.
package certificate

import (
	"context"

	"timbre/internal/certificate/models"
	id "timbre/pkg/domain"
)

// Store persists certificate records.
type Store interface {
	// Create inserts a new record. Returns sentinel.ErrConflict when the
	// serial number already exists or the tax id is bound to another tenant.
	Create(ctx context.Context, record *models.Record) error

	// FindByID returns the record or sentinel.ErrNotFound.
	FindByID(ctx context.Context, certID id.CertificateID) (*models.Record, error)

	// FindUsableByTenant returns the tenant's active validated record or
	// sentinel.ErrNotFound.
	FindUsableByTenant(ctx context.Context, tenantID id.TenantID) (*models.Record, error)

	// ListByTenant returns all of the tenant's records, newest first.
	ListByTenant(ctx context.Context, tenantID id.TenantID) ([]*models.Record, error)

	// Apply persists a transitioned snapshot under the store's lock. The
	// mutate callback receives the current stored state and returns the
	// snapshot to persist, keeping validate-then-mutate atomic.
	Apply(ctx context.Context, certID id.CertificateID, mutate func(models.Record) (models.Record, error)) (*models.Record, error)
}

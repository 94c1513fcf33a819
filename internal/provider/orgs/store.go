// Package orgs persists the tenant-to-provider-organization mapping.
//
// This mapping is the only source of truth for organization resolution: if a
// tenant has no row here, the adapter creates a fresh organization at the
// provider. The store is never populated from a provider-side directory
// search.
package orgs

import (
	"context"
	"time"

	id "timbre/pkg/domain"
)

// Organization is one tenant's organization at one provider.
type Organization struct {
	TenantID      id.TenantID
	Provider      string
	TaxID         string
	LegalName     string
	ZipCode       string
	TaxRegime     string
	ProviderOrgID string

	// APIKey is the org's live issuance credential, empty until provisioned.
	APIKey string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists provider organizations.
type Store interface {
	// Create inserts the mapping. Returns sentinel.ErrConflict when the
	// tenant already has an organization at this provider.
	Create(ctx context.Context, org *Organization) error

	// FindByTenant returns the tenant's organization at the provider, or
	// sentinel.ErrNotFound.
	FindByTenant(ctx context.Context, tenantID id.TenantID, providerName string) (*Organization, error)

	// SetLiveCredential records the org's issuance API key.
	SetLiveCredential(ctx context.Context, tenantID id.TenantID, providerName, apiKey string, now time.Time) error
}

// Package provider defines the contract every PAC (authorized certification
// provider) adapter must implement, plus the normalized error taxonomy and
// the adapter registry.
//
// Organization resolution is deliberately one-directional: adapters look up
// the provider-side organization in the local orgs store and CREATE one at
// the provider on a miss. No adapter exposes a way to search the provider's
// organization directory by tax id, so a tenant can never be attached to an
// organization another account registered for the same tax id. Searching the
// provider by a document's own fiscal id is safe and allowed.
package provider

import (
	"context"
	"time"

	"timbre/internal/invoice/models"
	id "timbre/pkg/domain"
)

// Organization carries the tenant's legal identity used to create the
// provider-side organization.
type Organization struct {
	TaxID     string
	LegalName string
	ZipCode   string
	TaxRegime string
	Email     string
}

// OrgRef points at a provider-side organization owned by a tenant.
type OrgRef struct {
	TenantID      id.TenantID
	Provider      string
	ProviderOrgID string
}

// SigningCredential is a tenant's decrypted CSD handed to the provider for
// upload. Values live only for the duration of the call.
type SigningCredential struct {
	Certificate []byte
	PrivateKey  []byte
	Passphrase  string
}

// ProvisionResult reports the outcome of a credential upload.
type ProvisionResult struct {
	// AlreadyProvisioned is true when the provider reported the credential
	// as present; callers treat this the same as a fresh upload.
	AlreadyProvisioned bool
	RawResponse        string
}

// StampRequest submits a tax document for stamping.
type StampRequest struct {
	// IdempotencyRef is echoed back by the provider and is the reconciliation
	// handle when the process dies between a stamp and the local finalize.
	IdempotencyRef string
	Document       models.TaxDocument
}

// StampResult is a successfully stamped document.
type StampResult struct {
	FiscalID      string // tax-authority UUID assigned to the document
	ProviderDocID string // provider's own document id, needed for cancellation
	XML           []byte
	PDF           []byte
	StampedAt     time.Time
	RawResponse   string
}

// DocumentQuery locates an already stamped document at the provider. Both
// fields are document-scoped identifiers; neither can enumerate or claim
// another account's organizations.
type DocumentQuery struct {
	IdempotencyRef string
	FiscalID       string
}

// CancellationReceipt is the provider's acknowledgement of a cancellation.
type CancellationReceipt struct {
	FiscalID    string
	Status      string
	RawResponse string
}

// Adapter is the protocol every PAC integration implements.
type Adapter interface {
	// Name returns the registry key for this adapter.
	Name() string

	// GetOrCreateOrganization resolves the tenant's provider-side org from
	// the local store, creating one at the provider on a miss.
	GetOrCreateOrganization(ctx context.Context, tenantID id.TenantID, org Organization) (*OrgRef, error)

	// ProvisionSigningCredential uploads the tenant's CSD to the provider
	// organization. An "already provisioned" response is success.
	ProvisionSigningCredential(ctx context.Context, ref *OrgRef, cred SigningCredential) (*ProvisionResult, error)

	// GetOrCreateLiveCredential returns the per-organization API key used
	// for issuance calls, provisioning one if the org has none yet.
	GetOrCreateLiveCredential(ctx context.Context, ref *OrgRef) (string, error)

	// IssueDocument stamps the document under the org's live credential.
	IssueDocument(ctx context.Context, apiKey string, req StampRequest) (*StampResult, error)

	// FindDocument locates a previously stamped document by idempotency
	// reference or fiscal id. Returns a not_found Error when the provider
	// has no such document.
	FindDocument(ctx context.Context, apiKey string, query DocumentQuery) (*StampResult, error)

	// CancelDocument cancels a stamped document with a tax-catalog reason
	// code.
	CancelDocument(ctx context.Context, apiKey string, providerDocID, reasonCode string) (*CancellationReceipt, error)

	// Health checks whether the provider is reachable.
	Health(ctx context.Context) error
}

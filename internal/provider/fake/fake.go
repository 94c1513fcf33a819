// Package fake provides an in-memory provider.Adapter for service tests.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"timbre/internal/provider"
	id "timbre/pkg/domain"
)

// Name is the fake adapter's registry key.
const Name = "fake"

// Adapter is a configurable in-memory PAC. Zero value stamps everything
// successfully; tests set the Fail* fields to exercise failure paths.
type Adapter struct {
	mu sync.Mutex

	FailOrganization error
	FailProvision    error
	FailIssue        error
	FailCancel       error

	orgs        map[id.TenantID]string
	lastOrg     provider.Organization
	credentials map[string]bool
	apiKeys     map[string]string
	stamped     map[string]*provider.StampResult // by idempotency ref
	byFiscalID  map[string]*provider.StampResult
	cancelled   map[string]string // provider doc id -> reason

	IssueCalls int
}

// New constructs an empty fake adapter.
func New() *Adapter {
	return &Adapter{
		orgs:        make(map[id.TenantID]string),
		credentials: make(map[string]bool),
		apiKeys:     make(map[string]string),
		stamped:     make(map[string]*provider.StampResult),
		byFiscalID:  make(map[string]*provider.StampResult),
		cancelled:   make(map[string]string),
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) GetOrCreateOrganization(_ context.Context, tenantID id.TenantID, org provider.Organization) (*provider.OrgRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.FailOrganization != nil {
		return nil, a.FailOrganization
	}
	a.lastOrg = org
	orgID, ok := a.orgs[tenantID]
	if !ok {
		orgID = "fake-org-" + uuid.NewString()[:8]
		a.orgs[tenantID] = orgID
	}
	return &provider.OrgRef{TenantID: tenantID, Provider: Name, ProviderOrgID: orgID}, nil
}

func (a *Adapter) ProvisionSigningCredential(_ context.Context, ref *provider.OrgRef, _ provider.SigningCredential) (*provider.ProvisionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.FailProvision != nil {
		return nil, a.FailProvision
	}
	already := a.credentials[ref.ProviderOrgID]
	a.credentials[ref.ProviderOrgID] = true
	return &provider.ProvisionResult{AlreadyProvisioned: already, RawResponse: `{"fake":true}`}, nil
}

func (a *Adapter) GetOrCreateLiveCredential(_ context.Context, ref *provider.OrgRef) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key, ok := a.apiKeys[ref.ProviderOrgID]
	if !ok {
		key = "fake-key-" + ref.ProviderOrgID
		a.apiKeys[ref.ProviderOrgID] = key
	}
	return key, nil
}

func (a *Adapter) IssueDocument(_ context.Context, _ string, req provider.StampRequest) (*provider.StampResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.IssueCalls++
	if a.FailIssue != nil {
		return nil, a.FailIssue
	}

	// Idempotent on the reference, like a real provider dedupe.
	if existing, ok := a.stamped[req.IdempotencyRef]; ok {
		return existing, nil
	}

	result := &provider.StampResult{
		FiscalID:      uuid.NewString(),
		ProviderDocID: "fake-doc-" + uuid.NewString()[:8],
		XML:           []byte(fmt.Sprintf("<cfdi folio=%q/>", fmt.Sprint(req.Document.Folio))),
		PDF:           []byte("%PDF-1.7 fake"),
		StampedAt:     req.Document.IssuedAt,
		RawResponse:   `{"fake":true}`,
	}
	a.stamped[req.IdempotencyRef] = result
	a.byFiscalID[result.FiscalID] = result
	return result, nil
}

func (a *Adapter) FindDocument(_ context.Context, _ string, query provider.DocumentQuery) (*provider.StampResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if query.IdempotencyRef != "" {
		if result, ok := a.stamped[query.IdempotencyRef]; ok {
			return result, nil
		}
	}
	if query.FiscalID != "" {
		if result, ok := a.byFiscalID[query.FiscalID]; ok {
			return result, nil
		}
	}
	return nil, provider.NewError(provider.ErrorNotFound, Name, "document not found", nil)
}

func (a *Adapter) CancelDocument(_ context.Context, _ string, providerDocID, reasonCode string) (*provider.CancellationReceipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.FailCancel != nil {
		return nil, a.FailCancel
	}
	a.cancelled[providerDocID] = reasonCode
	return &provider.CancellationReceipt{Status: "canceled", RawResponse: `{"fake":true}`}, nil
}

func (a *Adapter) Health(_ context.Context) error { return nil }

// LastOrganization returns the organization payload from the most recent
// successful GetOrCreateOrganization call.
func (a *Adapter) LastOrganization() provider.Organization {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastOrg
}

// Stamped returns the stamp result recorded for an idempotency reference.
func (a *Adapter) Stamped(ref string) (*provider.StampResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	result, ok := a.stamped[ref]
	return result, ok
}

// CancelledReason returns the reason code recorded for a cancelled document.
func (a *Adapter) CancelledReason(providerDocID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	reason, ok := a.cancelled[providerDocID]
	return reason, ok
}

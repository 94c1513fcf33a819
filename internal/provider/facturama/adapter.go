package facturama

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"timbre/internal/provider"
	"timbre/internal/provider/orgs"
	id "timbre/pkg/domain"
	"timbre/pkg/platform/sentinel"
	"timbre/pkg/requestcontext"
)

// Adapter implements provider.Adapter against the Facturama API, resolving
// organizations exclusively through the local orgs store.
type Adapter struct {
	client *Client
	orgs   orgs.Store

	// provisioning collapses concurrent live-credential requests for the
	// same org into one provider call.
	provisioning singleflight.Group
}

// New constructs the adapter.
func New(client *Client, orgStore orgs.Store) *Adapter {
	return &Adapter{client: client, orgs: orgStore}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) GetOrCreateOrganization(ctx context.Context, tenantID id.TenantID, org provider.Organization) (*provider.OrgRef, error) {
	existing, err := a.orgs.FindByTenant(ctx, tenantID, Name)
	if err == nil {
		return &provider.OrgRef{TenantID: tenantID, Provider: Name, ProviderOrgID: existing.ProviderOrgID}, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("resolve provider org: %w", err)
	}

	orgID, _, err := a.client.CreateOrganization(ctx, org)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	record := &orgs.Organization{
		TenantID:      tenantID,
		Provider:      Name,
		TaxID:         org.TaxID,
		LegalName:     org.LegalName,
		ZipCode:       org.ZipCode,
		TaxRegime:     org.TaxRegime,
		ProviderOrgID: orgID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.orgs.Create(ctx, record); err != nil {
		// A concurrent caller won the race; their mapping is authoritative.
		if errors.Is(err, sentinel.ErrConflict) {
			winner, ferr := a.orgs.FindByTenant(ctx, tenantID, Name)
			if ferr != nil {
				return nil, fmt.Errorf("resolve provider org after conflict: %w", ferr)
			}
			return &provider.OrgRef{TenantID: tenantID, Provider: Name, ProviderOrgID: winner.ProviderOrgID}, nil
		}
		return nil, fmt.Errorf("persist provider org: %w", err)
	}
	return &provider.OrgRef{TenantID: tenantID, Provider: Name, ProviderOrgID: orgID}, nil
}

func (a *Adapter) ProvisionSigningCredential(ctx context.Context, ref *provider.OrgRef, cred provider.SigningCredential) (*provider.ProvisionResult, error) {
	org, err := a.orgs.FindByTenant(ctx, ref.TenantID, Name)
	if err != nil {
		return nil, fmt.Errorf("resolve provider org: %w", err)
	}

	meta := provider.Organization{
		TaxID:     org.TaxID,
		LegalName: org.LegalName,
		ZipCode:   org.ZipCode,
		TaxRegime: org.TaxRegime,
	}
	if err := a.client.PutLegalMetadata(ctx, ref.ProviderOrgID, meta); err != nil {
		return nil, err
	}

	already, raw, err := a.client.UploadCSD(ctx, ref.ProviderOrgID, cred)
	if err != nil {
		return nil, err
	}
	return &provider.ProvisionResult{AlreadyProvisioned: already, RawResponse: raw}, nil
}

func (a *Adapter) GetOrCreateLiveCredential(ctx context.Context, ref *provider.OrgRef) (string, error) {
	org, err := a.orgs.FindByTenant(ctx, ref.TenantID, Name)
	if err != nil {
		return "", fmt.Errorf("resolve provider org: %w", err)
	}
	if org.APIKey != "" {
		return org.APIKey, nil
	}

	key, err, _ := a.provisioning.Do(ref.ProviderOrgID, func() (any, error) {
		// Re-check inside the flight: a previous flight may have stored it.
		current, err := a.orgs.FindByTenant(ctx, ref.TenantID, Name)
		if err == nil && current.APIKey != "" {
			return current.APIKey, nil
		}

		apiKey, err := a.client.CreateAPIKey(ctx, ref.ProviderOrgID)
		if err != nil {
			return "", err
		}
		if err := a.orgs.SetLiveCredential(ctx, ref.TenantID, Name, apiKey, requestcontext.Now(ctx)); err != nil {
			return "", fmt.Errorf("persist live credential: %w", err)
		}
		return apiKey, nil
	})
	if err != nil {
		return "", err
	}
	return key.(string), nil
}

func (a *Adapter) IssueDocument(ctx context.Context, apiKey string, req provider.StampRequest) (*provider.StampResult, error) {
	resp, raw, err := a.client.Issue(ctx, apiKey, toWire(req.Document, req.IdempotencyRef))
	if err != nil {
		return nil, err
	}
	return toStampResult(resp, raw)
}

func (a *Adapter) FindDocument(ctx context.Context, apiKey string, query provider.DocumentQuery) (*provider.StampResult, error) {
	resp, raw, err := a.client.FindCFDI(ctx, apiKey, query)
	if err != nil {
		return nil, err
	}
	return toStampResult(resp, raw)
}

func (a *Adapter) CancelDocument(ctx context.Context, apiKey string, providerDocID, reasonCode string) (*provider.CancellationReceipt, error) {
	resp, raw, err := a.client.Cancel(ctx, apiKey, providerDocID, reasonCode)
	if err != nil {
		return nil, err
	}
	return &provider.CancellationReceipt{
		FiscalID:    resp.UUID,
		Status:      resp.Status,
		RawResponse: raw,
	}, nil
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.client.Health(ctx)
}

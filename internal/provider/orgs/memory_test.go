package orgs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	id "timbre/pkg/domain"
	"timbre/pkg/platform/sentinel"
)

func TestInMemoryCreateAndFind(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())
	now := time.Now()

	org := &Organization{
		TenantID:      tenantID,
		Provider:      "facturama",
		TaxID:         "AAA010101AAA",
		ProviderOrgID: "org-1",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.Create(ctx, org))

	found, err := store.FindByTenant(ctx, tenantID, "facturama")
	require.NoError(t, err)
	require.Equal(t, "org-1", found.ProviderOrgID)
	require.Empty(t, found.APIKey)

	// One org per tenant per provider.
	require.ErrorIs(t, store.Create(ctx, org), sentinel.ErrConflict)

	// A different provider is a separate mapping.
	_, err = store.FindByTenant(ctx, tenantID, "other-pac")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemorySetLiveCredential(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())
	now := time.Now()

	err := store.SetLiveCredential(ctx, tenantID, "facturama", "key", now)
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	org := &Organization{TenantID: tenantID, Provider: "facturama", ProviderOrgID: "org-1", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Create(ctx, org))
	require.NoError(t, store.SetLiveCredential(ctx, tenantID, "facturama", "live-key", now))

	found, err := store.FindByTenant(ctx, tenantID, "facturama")
	require.NoError(t, err)
	require.Equal(t, "live-key", found.APIKey)
}

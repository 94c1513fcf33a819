package orgs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	id "timbre/pkg/domain"
	"timbre/pkg/platform/sentinel"
)

// Postgres persists provider organizations in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a PostgreSQL-backed org store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Create(ctx context.Context, org *Organization) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO provider_orgs (tenant_id, provider, tax_id, legal_name, zip_code, tax_regime, provider_org_id, api_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.UUID(org.TenantID), org.Provider, org.TaxID,
		org.LegalName, org.ZipCode, org.TaxRegime,
		org.ProviderOrgID, org.APIKey, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert provider org: %w", err)
	}
	return nil
}

func (s *Postgres) FindByTenant(ctx context.Context, tenantID id.TenantID, providerName string) (*Organization, error) {
	var (
		org Organization
		tid uuid.UUID
	)
	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id, provider, tax_id, legal_name, zip_code, tax_regime, provider_org_id, api_key, created_at, updated_at
		FROM provider_orgs
		WHERE tenant_id = $1 AND provider = $2`,
		uuid.UUID(tenantID), providerName,
	).Scan(&tid, &org.Provider, &org.TaxID, &org.LegalName, &org.ZipCode, &org.TaxRegime,
		&org.ProviderOrgID, &org.APIKey, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find provider org: %w", err)
	}
	org.TenantID = id.TenantID(tid)
	return &org, nil
}

func (s *Postgres) SetLiveCredential(ctx context.Context, tenantID id.TenantID, providerName, apiKey string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE provider_orgs SET api_key = $3, updated_at = $4
		WHERE tenant_id = $1 AND provider = $2`,
		uuid.UUID(tenantID), providerName, apiKey, now,
	)
	if err != nil {
		return fmt.Errorf("set live credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

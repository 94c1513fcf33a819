//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// Schema creates every table the stores expect. Integration tests apply it
// against a throwaway container; deployments run the same DDL through their
// migration tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS certificates (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	serial_number TEXT NOT NULL UNIQUE,
	subject_name TEXT NOT NULL DEFAULT '',
	issuer_name TEXT NOT NULL DEFAULT '',
	issuer_org TEXT NOT NULL DEFAULT '',
	tax_id TEXT NOT NULL DEFAULT '',
	zip_code TEXT NOT NULL DEFAULT '',
	tax_regime TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	valid_from TIMESTAMPTZ NOT NULL,
	valid_to TIMESTAMPTZ NOT NULL,
	enc_certificate TEXT NOT NULL DEFAULT '',
	enc_private_key TEXT NOT NULL DEFAULT '',
	enc_passphrase TEXT NOT NULL DEFAULT '',
	wrapped_key TEXT NOT NULL DEFAULT '',
	key_ref TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	is_validated BOOLEAN NOT NULL DEFAULT FALSE,
	uploaded BOOLEAN NOT NULL DEFAULT FALSE,
	provider_response TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	last_used TIMESTAMPTZ,
	usage_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS certificates_tenant_idx ON certificates (tenant_id);

CREATE TABLE IF NOT EXISTS tenant_folios (
	tenant_id UUID PRIMARY KEY,
	last_folio BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS invoices (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	payment_id UUID NOT NULL,
	series TEXT NOT NULL,
	folio BIGINT NOT NULL,
	status TEXT NOT NULL,
	recipient_name TEXT NOT NULL DEFAULT '',
	recipient_tax_id TEXT NOT NULL DEFAULT '',
	recipient_email TEXT NOT NULL DEFAULT '',
	subtotal NUMERIC(18,6) NOT NULL,
	tax_total NUMERIC(18,6) NOT NULL,
	total NUMERIC(18,6) NOT NULL,
	currency TEXT NOT NULL DEFAULT '',
	idempotency_ref TEXT NOT NULL UNIQUE,
	fiscal_id TEXT NOT NULL DEFAULT '',
	provider_doc_id TEXT NOT NULL DEFAULT '',
	xml_artifact BYTEA,
	pdf_artifact BYTEA,
	provider_response TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	cancel_reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS invoices_tenant_idx ON invoices (tenant_id);
CREATE INDEX IF NOT EXISTS invoices_status_idx ON invoices (status);
CREATE UNIQUE INDEX IF NOT EXISTS invoices_fiscal_id_idx ON invoices (fiscal_id) WHERE fiscal_id <> '';
CREATE UNIQUE INDEX IF NOT EXISTS invoices_tenant_folio_idx ON invoices (tenant_id, series, folio);

CREATE TABLE IF NOT EXISTS provider_orgs (
	tenant_id UUID NOT NULL,
	provider TEXT NOT NULL,
	tax_id TEXT NOT NULL DEFAULT '',
	legal_name TEXT NOT NULL DEFAULT '',
	zip_code TEXT NOT NULL DEFAULT '',
	tax_regime TEXT NOT NULL DEFAULT '',
	provider_org_id TEXT NOT NULL DEFAULT '',
	api_key TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, provider)
);

CREATE TABLE IF NOT EXISTS audit_events (
	id BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	before TEXT NOT NULL DEFAULT '',
	after TEXT NOT NULL DEFAULT '',
	request_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_events_entity_idx ON audit_events (entity_type, entity_id);
`

// PostgresContainer wraps a testcontainers PostgreSQL instance with the
// schema already applied.
type PostgresContainer struct {
	Container testcontainers.Container
	URL       string
	Pool      *pgxpool.Pool
}

// NewPostgresContainer starts a new PostgreSQL container and applies the
// schema.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("timbre_test"),
		tcpostgres.WithUsername("timbre"),
		tcpostgres.WithPassword("timbre"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open pgx pool: %v", err)
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	pc := &PostgresContainer{
		Container: container,
		URL:       url,
		Pool:      pool,
	}

	// Note: We don't register t.Cleanup here because the container is shared
	// across test suites in one package. Ryuk reaps it when the run ends.

	return pc
}

// TruncateAll clears every table. Use between tests to ensure isolation.
func (p *PostgresContainer) TruncateAll(ctx context.Context) error {
	_, err := p.Pool.Exec(ctx, `
		TRUNCATE certificates, tenant_folios, invoices, provider_orgs, audit_events`)
	return err
}

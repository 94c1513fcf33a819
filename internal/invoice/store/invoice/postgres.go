package invoice

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"timbre/internal/invoice/models"
	id "timbre/pkg/domain"
	"timbre/pkg/platform/sentinel"
)

// Postgres persists invoices in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a PostgreSQL-backed invoice store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const invoiceColumns = `
	id, tenant_id, payment_id, series, folio, status,
	recipient_name, recipient_tax_id, recipient_email,
	subtotal, tax_total, total, currency,
	idempotency_ref, fiscal_id, provider_doc_id,
	xml_artifact, pdf_artifact, provider_response, last_error,
	cancel_reason, created_at, updated_at`

func (s *Postgres) CreateWithFolio(ctx context.Context, invoice *models.Invoice) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create invoice: %w", err)
	}
	defer tx.Rollback(ctx)

	// The upsert takes a row lock on the tenant's counter, serializing
	// concurrent allocations for the same tenant while leaving other
	// tenants unblocked.
	var folio int64
	err = tx.QueryRow(ctx, `
		INSERT INTO tenant_folios (tenant_id, last_folio)
		VALUES ($1, 1)
		ON CONFLICT (tenant_id)
		DO UPDATE SET last_folio = tenant_folios.last_folio + 1
		RETURNING last_folio`,
		uuid.UUID(invoice.TenantID),
	).Scan(&folio)
	if err != nil {
		return fmt.Errorf("allocate folio: %w", err)
	}
	invoice.Folio = folio

	_, err = tx.Exec(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		uuid.UUID(invoice.ID), uuid.UUID(invoice.TenantID), uuid.UUID(invoice.PaymentID),
		invoice.Series, invoice.Folio, string(invoice.Status),
		invoice.RecipientName, invoice.RecipientTaxID, invoice.RecipientEmail,
		invoice.Subtotal, invoice.TaxTotal, invoice.Total, invoice.Currency,
		invoice.IdempotencyRef, invoice.FiscalID, invoice.ProviderDocID,
		invoice.XMLArtifact, invoice.PDFArtifact, invoice.ProviderResponse, invoice.LastError,
		invoice.CancelReason, invoice.CreatedAt, invoice.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Postgres) FindByID(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`,
		uuid.UUID(invoiceID))
	return scanInvoice(row)
}

func (s *Postgres) FindByFiscalID(ctx context.Context, fiscalID string) (*models.Invoice, error) {
	if fiscalID == "" {
		return nil, sentinel.ErrNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE fiscal_id = $1`,
		fiscalID)
	return scanInvoice(row)
}

func (s *Postgres) ListByStatus(ctx context.Context, status models.Status) ([]*models.Invoice, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE status = $1 ORDER BY created_at`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list invoices by status: %w", err)
	}
	defer rows.Close()

	var out []*models.Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, invoice)
	}
	return out, rows.Err()
}

func (s *Postgres) Apply(ctx context.Context, invoiceID id.InvoiceID, mutate func(models.Invoice) (models.Invoice, error)) (*models.Invoice, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin apply invoice: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`,
		uuid.UUID(invoiceID))
	current, err := scanInvoice(row)
	if err != nil {
		return nil, err
	}

	next, err := mutate(*current)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE invoices SET
			status = $2, fiscal_id = $3, provider_doc_id = $4,
			xml_artifact = $5, pdf_artifact = $6,
			provider_response = $7, last_error = $8, cancel_reason = $9,
			updated_at = $10
		WHERE id = $1`,
		uuid.UUID(invoiceID),
		string(next.Status), next.FiscalID, next.ProviderDocID,
		next.XMLArtifact, next.PDFArtifact,
		next.ProviderResponse, next.LastError, next.CancelReason,
		next.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update invoice: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit apply invoice: %w", err)
	}
	return &next, nil
}

func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	var (
		invoice   models.Invoice
		invoiceID uuid.UUID
		tenantID  uuid.UUID
		paymentID uuid.UUID
		status    string
	)
	err := row.Scan(
		&invoiceID, &tenantID, &paymentID,
		&invoice.Series, &invoice.Folio, &status,
		&invoice.RecipientName, &invoice.RecipientTaxID, &invoice.RecipientEmail,
		&invoice.Subtotal, &invoice.TaxTotal, &invoice.Total, &invoice.Currency,
		&invoice.IdempotencyRef, &invoice.FiscalID, &invoice.ProviderDocID,
		&invoice.XMLArtifact, &invoice.PDFArtifact, &invoice.ProviderResponse, &invoice.LastError,
		&invoice.CancelReason, &invoice.CreatedAt, &invoice.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan invoice: %w", err)
	}
	invoice.ID = id.InvoiceID(invoiceID)
	invoice.TenantID = id.TenantID(tenantID)
	invoice.PaymentID = id.PaymentID(paymentID)
	invoice.Status = models.Status(status)
	return &invoice, nil
}

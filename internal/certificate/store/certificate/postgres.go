package certificate

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"timbre/internal/certificate/crypto"
	"timbre/internal/certificate/models"
	id "timbre/pkg/domain"
	"timbre/pkg/platform/sentinel"
)

// Postgres persists certificate records in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a PostgreSQL-backed certificate store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const certificateColumns = `
	id, tenant_id, serial_number, subject_name, issuer_name, issuer_org,
	tax_id, zip_code, tax_regime, email, valid_from, valid_to,
	enc_certificate, enc_private_key, enc_passphrase, wrapped_key, key_ref,
	is_active, is_validated, uploaded, provider_response, last_error,
	last_used, usage_count, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, record *models.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create certificate: %w", err)
	}
	defer tx.Rollback(ctx)

	if record.TaxID != "" {
		// Concurrent uploads of the same tax id by different tenants would
		// both see no rows under READ COMMITTED; the advisory lock serializes
		// them for the duration of the transaction.
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtext(upper($1)))`, record.TaxID,
		); err != nil {
			return fmt.Errorf("lock tax id: %w", err)
		}

		var boundTenant uuid.UUID
		err := tx.QueryRow(ctx,
			`SELECT tenant_id FROM certificates
			 WHERE upper(tax_id) = upper($1) AND tenant_id <> $2 LIMIT 1`,
			record.TaxID, uuid.UUID(record.TenantID),
		).Scan(&boundTenant)
		if err == nil {
			return sentinel.ErrConflict
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check tax id binding: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO certificates (`+certificateColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)`,
		uuid.UUID(record.ID), uuid.UUID(record.TenantID),
		record.SerialNumber, record.SubjectName, record.IssuerName, record.IssuerOrg,
		record.TaxID, record.ZipCode, record.TaxRegime, record.Email,
		record.ValidFrom, record.ValidTo,
		record.Bundle.Certificate, record.Bundle.PrivateKey, record.Bundle.Passphrase,
		record.Bundle.WrappedKey, record.Bundle.KeyRef,
		record.IsActive, record.IsValidated, record.Uploaded,
		record.ProviderResponse, record.LastError,
		record.LastUsed, record.UsageCount, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Postgres) FindByID(ctx context.Context, certID id.CertificateID) (*models.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE id = $1`,
		uuid.UUID(certID))
	return scanRecord(row)
}

func (s *Postgres) FindUsableByTenant(ctx context.Context, tenantID id.TenantID) (*models.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+certificateColumns+` FROM certificates
		 WHERE tenant_id = $1 AND is_active AND is_validated
		 ORDER BY created_at DESC LIMIT 1`,
		uuid.UUID(tenantID))
	return scanRecord(row)
}

func (s *Postgres) ListByTenant(ctx context.Context, tenantID id.TenantID) ([]*models.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+certificateColumns+` FROM certificates
		 WHERE tenant_id = $1 ORDER BY created_at DESC`,
		uuid.UUID(tenantID))
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *Postgres) Apply(ctx context.Context, certID id.CertificateID, mutate func(models.Record) (models.Record, error)) (*models.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin apply certificate: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE id = $1 FOR UPDATE`,
		uuid.UUID(certID))
	current, err := scanRecord(row)
	if err != nil {
		return nil, err
	}

	next, err := mutate(*current)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE certificates SET
			wrapped_key = $2, key_ref = $3,
			is_active = $4, is_validated = $5, uploaded = $6,
			provider_response = $7, last_error = $8,
			last_used = $9, usage_count = $10, updated_at = $11
		WHERE id = $1`,
		uuid.UUID(certID),
		next.Bundle.WrappedKey, next.Bundle.KeyRef,
		next.IsActive, next.IsValidated, next.Uploaded,
		next.ProviderResponse, next.LastError,
		next.LastUsed, next.UsageCount, next.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update certificate: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit apply certificate: %w", err)
	}
	return &next, nil
}

func scanRecord(row pgx.Row) (*models.Record, error) {
	var (
		record   models.Record
		recordID uuid.UUID
		tenantID uuid.UUID
		bundle   crypto.EncryptedBundle
	)
	err := row.Scan(
		&recordID, &tenantID,
		&record.SerialNumber, &record.SubjectName, &record.IssuerName, &record.IssuerOrg,
		&record.TaxID, &record.ZipCode, &record.TaxRegime, &record.Email,
		&record.ValidFrom, &record.ValidTo,
		&bundle.Certificate, &bundle.PrivateKey, &bundle.Passphrase,
		&bundle.WrappedKey, &bundle.KeyRef,
		&record.IsActive, &record.IsValidated, &record.Uploaded,
		&record.ProviderResponse, &record.LastError,
		&record.LastUsed, &record.UsageCount, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan certificate: %w", err)
	}
	record.ID = id.CertificateID(recordID)
	record.TenantID = id.TenantID(tenantID)
	record.Bundle = bundle
	return &record, nil
}

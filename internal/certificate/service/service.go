// Package service orchestrates certificate onboarding: validation, envelope
// encryption, persistence, and provider provisioning.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"timbre/internal/audit"
	"timbre/internal/certificate/crypto"
	"timbre/internal/certificate/models"
	"timbre/internal/certificate/validator"
	"timbre/internal/notify"
	"timbre/internal/provider"
	id "timbre/pkg/domain"
	dErrors "timbre/pkg/domain-errors"
	"timbre/pkg/platform/sentinel"
	"timbre/pkg/requestcontext"
)

// CertificateStore is the persistence surface the service needs.
type CertificateStore interface {
	Create(ctx context.Context, record *models.Record) error
	FindByID(ctx context.Context, certID id.CertificateID) (*models.Record, error)
	FindUsableByTenant(ctx context.Context, tenantID id.TenantID) (*models.Record, error)
	ListByTenant(ctx context.Context, tenantID id.TenantID) ([]*models.Record, error)
	Apply(ctx context.Context, certID id.CertificateID, mutate func(models.Record) (models.Record, error)) (*models.Record, error)
}

// Envelope seals and unseals CSD material.
type Envelope interface {
	Encrypt(certificate, privateKey []byte, passphrase string) (*crypto.EncryptedBundle, error)
	Decrypt(bundle *crypto.EncryptedBundle) (*crypto.DecryptedBundle, error)
	Rewrap(bundle *crypto.EncryptedBundle) (*crypto.EncryptedBundle, error)
}

// AuditPublisher records boundary events.
type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Service orchestrates certificate onboarding and lifecycle.
type Service struct {
	certs     CertificateStore
	envelope  Envelope
	validator *validator.Validator
	adapter   provider.Adapter

	logger   *slog.Logger
	auditor  AuditPublisher
	notifier notify.Dispatcher
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditor = publisher }
}

func WithNotifier(dispatcher notify.Dispatcher) Option {
	return func(s *Service) { s.notifier = dispatcher }
}

// New constructs a Service.
func New(certs CertificateStore, envelope Envelope, v *validator.Validator, adapter provider.Adapter, opts ...Option) *Service {
	s := &Service{
		certs:     certs,
		envelope:  envelope,
		validator: v,
		adapter:   adapter,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadRequest carries a tenant's CSD and registered identity.
type UploadRequest struct {
	TenantID    id.TenantID
	TaxID       string
	LegalName   string
	ZipCode     string
	TaxRegime   string
	Email       string
	Certificate []byte
	PrivateKey  []byte
	Passphrase  string
}

// Upload validates, encrypts, persists, and provisions a CSD.
//
// Provider provisioning failure after the local persist is not an upload
// failure: the record stays locally valid with Uploaded=false and LastError
// set, and provisioning is retried via RetryProvisioning.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*models.Record, error) {
	now := requestcontext.Now(ctx)

	result, err := s.validator.Validate(req.Certificate, req.PrivateKey, req.Passphrase, req.TaxID, req.LegalName, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, err.Error())
	}

	bundle, err := s.envelope.Encrypt(result.CertificateBytes, result.PrivateKeyBytes, result.Passphrase)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to protect certificate material")
	}

	record, err := models.NewRecord(
		id.CertificateID(uuid.New()), req.TenantID,
		result.Identity.SerialNumber, result.Identity.SubjectName,
		result.Identity.IssuerName, result.Identity.IssuerOrg,
		result.Identity.TaxID,
		result.Identity.ValidFrom, result.Identity.ValidTo,
		*bundle, now,
	)
	if err != nil {
		return nil, err
	}
	record.ZipCode = req.ZipCode
	record.TaxRegime = req.TaxRegime
	record.Email = req.Email

	if err := s.certs.Create(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict,
				"certificate serial already registered or tax id belongs to another tenant")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store certificate")
	}

	s.emitAudit(ctx, audit.Event{
		Action:     audit.ActionCertificateUploaded,
		EntityType: "certificate",
		EntityID:   record.ID.String(),
		After:      record.SerialNumber,
	})

	return s.provision(ctx, record, req, provider.SigningCredential{
		Certificate: result.CertificateBytes,
		PrivateKey:  result.PrivateKeyBytes,
		Passphrase:  result.Passphrase,
	})
}

// RetryProvisioning re-attempts the provider upload for a record whose
// earlier provisioning failed. The CSD is decrypted from the stored bundle.
func (s *Service) RetryProvisioning(ctx context.Context, tenantID id.TenantID, certID id.CertificateID) (*models.Record, error) {
	record, err := s.getOwned(ctx, tenantID, certID)
	if err != nil {
		return nil, err
	}
	if record.Uploaded {
		return record, nil
	}

	decrypted, err := s.envelope.Decrypt(&record.Bundle)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to unseal certificate material")
	}

	// The full fiscal identity must travel with the retry: if the first
	// attempt failed before org creation, the org (and its legal metadata)
	// is created now.
	req := UploadRequest{
		TenantID:  tenantID,
		TaxID:     record.TaxID,
		LegalName: record.SubjectName,
		ZipCode:   record.ZipCode,
		TaxRegime: record.TaxRegime,
		Email:     record.Email,
	}
	return s.provision(ctx, record, req, provider.SigningCredential{
		Certificate: decrypted.Certificate.Bytes,
		PrivateKey:  decrypted.PrivateKey.Bytes,
		Passphrase:  decrypted.Passphrase,
	})
}

func (s *Service) provision(ctx context.Context, record *models.Record, req UploadRequest, cred provider.SigningCredential) (*models.Record, error) {
	now := requestcontext.Now(ctx)

	ref, err := s.adapter.GetOrCreateOrganization(ctx, req.TenantID, provider.Organization{
		TaxID:     req.TaxID,
		LegalName: req.LegalName,
		ZipCode:   req.ZipCode,
		TaxRegime: req.TaxRegime,
		Email:     req.Email,
	})
	if err == nil {
		var result *provider.ProvisionResult
		result, err = s.adapter.ProvisionSigningCredential(ctx, ref, cred)
		if err == nil {
			updated, applyErr := s.certs.Apply(ctx, record.ID, func(current models.Record) (models.Record, error) {
				return current.WithUploaded(result.RawResponse, now), nil
			})
			if applyErr != nil {
				return nil, dErrors.Wrap(applyErr, dErrors.CodeInternal, "failed to record provisioning")
			}
			s.notify(ctx, notify.Notification{
				TenantID: req.TenantID,
				Kind:     notify.KindCertificateReady,
				Subject:  "certificate ready for stamping",
			})
			return updated, nil
		}
	}

	s.logger.Warn("certificate provisioning failed",
		"certificate_id", record.ID.String(),
		"error", err,
	)
	updated, applyErr := s.certs.Apply(ctx, record.ID, func(current models.Record) (models.Record, error) {
		return current.WithUploadFailed(err.Error(), now), nil
	})
	if applyErr != nil {
		return nil, dErrors.Wrap(applyErr, dErrors.CodeInternal, "failed to record provisioning failure")
	}
	s.notify(ctx, notify.Notification{
		TenantID: req.TenantID,
		Kind:     notify.KindCertificateUpload,
		Subject:  "certificate provisioning failed, will retry",
	})
	return updated, nil
}

// Get returns a tenant's certificate record.
func (s *Service) Get(ctx context.Context, tenantID id.TenantID, certID id.CertificateID) (*models.Record, error) {
	return s.getOwned(ctx, tenantID, certID)
}

// List returns all of the tenant's certificate records, newest first.
func (s *Service) List(ctx context.Context, tenantID id.TenantID) ([]*models.Record, error) {
	records, err := s.certs.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificates")
	}
	return records, nil
}

// Deactivate takes a certificate out of service. Records are never deleted;
// retention is a caller policy.
func (s *Service) Deactivate(ctx context.Context, tenantID id.TenantID, certID id.CertificateID) (*models.Record, error) {
	if _, err := s.getOwned(ctx, tenantID, certID); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	updated, err := s.certs.Apply(ctx, certID, func(current models.Record) (models.Record, error) {
		if err := current.CanDeactivate(); err != nil {
			return models.Record{}, err
		}
		return current.WithDeactivated(now), nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeConflict, "certificate is already inactive")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to deactivate certificate")
	}

	s.emitAudit(ctx, audit.Event{
		Action:     audit.ActionCertificateDeactivated,
		EntityType: "certificate",
		EntityID:   certID.String(),
	})
	return updated, nil
}

// Rewrap re-wraps the record's data key under the current master secret.
// Run after a rotation advances the current slot; payload ciphertexts are
// untouched.
func (s *Service) Rewrap(ctx context.Context, certID id.CertificateID) (*models.Record, error) {
	now := requestcontext.Now(ctx)

	updated, err := s.certs.Apply(ctx, certID, func(current models.Record) (models.Record, error) {
		rewrapped, err := s.envelope.Rewrap(&current.Bundle)
		if err != nil {
			return models.Record{}, err
		}
		return current.WithRewrappedBundle(*rewrapped, now), nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		if errors.Is(err, crypto.ErrDecryption) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "certificate bundle cannot be unwrapped with configured secrets")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to rewrap certificate")
	}

	s.emitAudit(ctx, audit.Event{
		Action:     audit.ActionCertificateRewrapped,
		EntityType: "certificate",
		EntityID:   certID.String(),
		After:      updated.Bundle.KeyRef,
	})
	return updated, nil
}

func (s *Service) getOwned(ctx context.Context, tenantID id.TenantID, certID id.CertificateID) (*models.Record, error) {
	record, err := s.certs.FindByID(ctx, certID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}
	if record.TenantID != tenantID {
		// Cross-tenant probes get the same answer as a miss.
		return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
	}
	return record, nil
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.Warn("audit emit failed", "action", event.Action, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Dispatch(ctx, n); err != nil {
		s.logger.Warn("notification dispatch failed", "kind", n.Kind, "error", err)
	}
}

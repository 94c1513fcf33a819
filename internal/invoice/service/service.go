// Package service orchestrates invoice issuance: folio allocation, document
// construction, provider stamping, and local finalization.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"timbre/internal/audit"
	certmodels "timbre/internal/certificate/models"
	"timbre/internal/invoice/builder"
	"timbre/internal/invoice/metrics"
	"timbre/internal/invoice/models"
	"timbre/internal/notify"
	"timbre/internal/provider"
	id "timbre/pkg/domain"
	dErrors "timbre/pkg/domain-errors"
	"timbre/pkg/platform/sentinel"
	"timbre/pkg/requestcontext"
)

// stampAttempts bounds the synchronous retry loop around provider calls.
const stampAttempts = 3

// reconcileGrace keeps reconciliation away from requests still in flight.
const reconcileGrace = time.Minute

// InvoiceStore is the persistence surface the service needs.
type InvoiceStore interface {
	CreateWithFolio(ctx context.Context, invoice *models.Invoice) error
	FindByID(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error)
	FindByFiscalID(ctx context.Context, fiscalID string) (*models.Invoice, error)
	ListByStatus(ctx context.Context, status models.Status) ([]*models.Invoice, error)
	Apply(ctx context.Context, invoiceID id.InvoiceID, mutate func(models.Invoice) (models.Invoice, error)) (*models.Invoice, error)
}

// CertificateStore is the certificate surface issuance needs.
type CertificateStore interface {
	FindUsableByTenant(ctx context.Context, tenantID id.TenantID) (*certmodels.Record, error)
	Apply(ctx context.Context, certID id.CertificateID, mutate func(certmodels.Record) (certmodels.Record, error)) (*certmodels.Record, error)
}

// PaymentMarker tells the owning system its payment now has an invoice.
// Payment lifecycle itself lives outside this core.
type PaymentMarker interface {
	MarkInvoiced(ctx context.Context, paymentID id.PaymentID, invoiceID id.InvoiceID, fiscalID string) error
}

// AuditPublisher records boundary events.
type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Service orchestrates the stamping flow against one provider adapter.
type Service struct {
	invoices InvoiceStore
	certs    CertificateStore
	builder  *builder.Builder
	adapter  provider.Adapter

	payments PaymentMarker
	logger   *slog.Logger
	auditor  AuditPublisher
	notifier notify.Dispatcher
	metrics  *metrics.Metrics
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithPaymentMarker(marker PaymentMarker) Option {
	return func(s *Service) { s.payments = marker }
}

// New constructs a Service.
func New(invoices InvoiceStore, certs CertificateStore, b *builder.Builder, adapter provider.Adapter, opts ...Option) *Service {
	s := &Service{
		invoices: invoices,
		certs:    certs,
		builder:  b,
		adapter:  adapter,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueRequest asks for one payment to be invoiced.
type IssueRequest struct {
	TenantID  id.TenantID
	PaymentID id.PaymentID
	Series    string

	RecipientTaxID   string
	RecipientName    string
	RecipientZipCode string
	RecipientEmail   string

	Total       string // decimal string, tax-inclusive
	TaxRate     string // decimal string in (0,1)
	Description string
	Currency    string
}

// Issue runs the full stamping flow.
//
// The invoice row is persisted in StatusStamping before the provider call,
// carrying the idempotency reference the provider sees. If the process dies
// after a successful stamp but before the finalize, ReconcilePending recovers
// the record instead of double-stamping.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*models.Invoice, error) {
	now := requestcontext.Now(ctx)

	cert, err := s.usableCertificate(ctx, req.TenantID, now)
	if err != nil {
		return nil, err
	}

	total, err := decimal.NewFromString(req.Total)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "total is not a valid decimal amount")
	}
	rate, err := decimal.NewFromString(req.TaxRate)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tax rate is not a valid decimal")
	}

	doc, err := s.builder.Build(builder.Request{
		Issuer: models.Party{
			TaxID:     cert.TaxID,
			LegalName: cert.SubjectName,
		},
		Recipient: models.Party{
			TaxID:     req.RecipientTaxID,
			LegalName: req.RecipientName,
			ZipCode:   req.RecipientZipCode,
			Email:     req.RecipientEmail,
		},
		Total:       total,
		Rate:        rate,
		Currency:    req.Currency,
		Description: req.Description,
		Series:      req.Series,
		IssuedAt:    now,
	})
	if err != nil {
		return nil, err
	}

	apiKey, err := s.credentials(ctx, req.TenantID, cert)
	if err != nil {
		return nil, err
	}

	invoice := &models.Invoice{
		ID:             id.InvoiceID(uuid.New()),
		TenantID:       req.TenantID,
		PaymentID:      req.PaymentID,
		Series:         doc.Series,
		Status:         models.StatusStamping,
		RecipientName:  doc.Recipient.LegalName,
		RecipientTaxID: doc.Recipient.TaxID,
		RecipientEmail: doc.Recipient.Email,
		Subtotal:       doc.Subtotal,
		TaxTotal:       doc.TaxTotal,
		Total:          doc.Total,
		Currency:       doc.Currency,
		IdempotencyRef: uuid.NewString(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.invoices.CreateWithFolio(ctx, invoice); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist invoice")
	}
	doc.Folio = invoice.Folio
	if s.metrics != nil {
		s.metrics.FoliosAllocated.Inc()
	}

	result, err := s.stamp(ctx, apiKey, provider.StampRequest{
		IdempotencyRef: invoice.IdempotencyRef,
		Document:       *doc,
	})
	if err != nil {
		return s.recordStampFailure(ctx, invoice, err, now)
	}
	return s.finalize(ctx, invoice.ID, cert.ID, req.PaymentID, result, now)
}

// stamp calls the provider with bounded exponential backoff. Only errors the
// taxonomy marks retryable are retried; rejections fail immediately.
func (s *Service) stamp(ctx context.Context, apiKey string, req provider.StampRequest) (*provider.StampResult, error) {
	var result *provider.StampResult
	start := time.Now()

	operation := func() error {
		var err error
		result, err = s.adapter.IssueDocument(ctx, apiKey, req)
		if err != nil && !provider.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), stampAttempts-1), ctx)
	err := backoff.Retry(operation, policy)

	if s.metrics != nil {
		s.metrics.ObserveStamp(start)
	}
	return result, err
}

func (s *Service) finalize(ctx context.Context, invoiceID id.InvoiceID, certID id.CertificateID, paymentID id.PaymentID, result *provider.StampResult, now time.Time) (*models.Invoice, error) {
	updated, err := s.invoices.Apply(ctx, invoiceID, func(current models.Invoice) (models.Invoice, error) {
		return current.WithStamped(result.FiscalID, result.ProviderDocID, result.XML, result.PDF, result.RawResponse, now), nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to finalize invoice")
	}

	if _, err := s.certs.Apply(ctx, certID, func(current certmodels.Record) (certmodels.Record, error) {
		return current.WithUse(now), nil
	}); err != nil {
		s.logger.Warn("failed to record certificate use", "certificate_id", certID.String(), "error", err)
	}

	if s.payments != nil {
		if err := s.payments.MarkInvoiced(ctx, paymentID, invoiceID, result.FiscalID); err != nil {
			s.logger.Warn("failed to mark payment invoiced", "payment_id", paymentID.String(), "error", err)
		}
	}

	if s.metrics != nil {
		s.metrics.InvoicesStamped.Inc()
	}
	s.emitAudit(ctx, audit.Event{
		Action:     audit.ActionInvoiceStamped,
		EntityType: "invoice",
		EntityID:   invoiceID.String(),
		After:      result.FiscalID,
	})
	s.notify(ctx, notify.Notification{
		TenantID: updated.TenantID,
		Kind:     notify.KindInvoiceStamped,
		Subject:  "invoice stamped",
	})
	return updated, nil
}

func (s *Service) recordStampFailure(ctx context.Context, invoice *models.Invoice, stampErr error, now time.Time) (*models.Invoice, error) {
	raw := ""
	var pe *provider.Error
	if errors.As(stampErr, &pe) {
		raw = pe.Message
	}
	if _, err := s.invoices.Apply(ctx, invoice.ID, func(current models.Invoice) (models.Invoice, error) {
		return current.WithStampFailed(stampErr.Error(), raw, now), nil
	}); err != nil {
		s.logger.Error("failed to record stamp failure", "invoice_id", invoice.ID.String(), "error", err)
	}

	if s.metrics != nil {
		s.metrics.InvoicesFailed.Inc()
	}
	s.emitAudit(ctx, audit.Event{
		Action:     audit.ActionInvoiceStampFailed,
		EntityType: "invoice",
		EntityID:   invoice.ID.String(),
		After:      stampErr.Error(),
	})
	s.notify(ctx, notify.Notification{
		TenantID: invoice.TenantID,
		Kind:     notify.KindInvoiceFailed,
		Subject:  "invoice stamping failed",
	})
	return nil, translateProviderError(stampErr)
}

// Cancel cancels a stamped invoice at the provider and records the reason.
// The provider document id comes from the local record; when absent (legacy
// rows), the provider is queried by the document's own fiscal id, which is a
// document-scoped lookup and safe.
func (s *Service) Cancel(ctx context.Context, tenantID id.TenantID, fiscalID, reasonCode string) (*models.Invoice, error) {
	if reasonCode == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "cancellation reason code is required")
	}
	now := requestcontext.Now(ctx)

	invoice, err := s.invoices.FindByFiscalID(ctx, fiscalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "invoice not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load invoice")
	}
	if invoice.TenantID != tenantID {
		return nil, dErrors.New(dErrors.CodeNotFound, "invoice not found")
	}
	if err := invoice.CanCancel(); err != nil {
		return nil, dErrors.New(dErrors.CodeConflict, "only stamped invoices can be cancelled")
	}

	cert, err := s.usableCertificate(ctx, tenantID, now)
	if err != nil {
		return nil, err
	}
	apiKey, err := s.credentials(ctx, tenantID, cert)
	if err != nil {
		return nil, err
	}

	docID := invoice.ProviderDocID
	if docID == "" {
		found, err := s.adapter.FindDocument(ctx, apiKey, provider.DocumentQuery{FiscalID: fiscalID})
		if err != nil {
			return nil, translateProviderError(err)
		}
		docID = found.ProviderDocID
	}

	operation := func() error {
		_, err := s.adapter.CancelDocument(ctx, apiKey, docID, reasonCode)
		if err != nil && !provider.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), stampAttempts-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, translateProviderError(err)
	}

	updated, err := s.invoices.Apply(ctx, invoice.ID, func(current models.Invoice) (models.Invoice, error) {
		if err := current.CanCancel(); err != nil {
			return models.Invoice{}, err
		}
		return current.WithCancelled(reasonCode, now), nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record cancellation")
	}

	if s.metrics != nil {
		s.metrics.InvoicesCancelled.Inc()
	}
	s.emitAudit(ctx, audit.Event{
		Action:     audit.ActionInvoiceCancelled,
		EntityType: "invoice",
		EntityID:   invoice.ID.String(),
		After:      reasonCode,
	})
	return updated, nil
}

// Get returns a tenant's invoice.
func (s *Service) Get(ctx context.Context, tenantID id.TenantID, invoiceID id.InvoiceID) (*models.Invoice, error) {
	invoice, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "invoice not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load invoice")
	}
	if invoice.TenantID != tenantID {
		return nil, dErrors.New(dErrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}

// ReconcilePending re-queries the provider for invoices stuck in
// StatusStamping: the process died between the stamp call and the local
// finalize. Found documents are finalized from the provider's answer;
// documents the provider never stamped are moved to StatusError.
func (s *Service) ReconcilePending(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)

	pending, err := s.invoices.ListByStatus(ctx, models.StatusStamping)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pending invoices")
	}

	recovered := 0
	for _, invoice := range pending {
		if now.Sub(invoice.CreatedAt) < reconcileGrace {
			continue
		}

		cert, err := s.usableCertificate(ctx, invoice.TenantID, now)
		if err != nil {
			s.logger.Warn("reconcile skipped: no usable certificate",
				"invoice_id", invoice.ID.String(), "error", err)
			continue
		}
		apiKey, err := s.credentials(ctx, invoice.TenantID, cert)
		if err != nil {
			s.logger.Warn("reconcile skipped: no live credential",
				"invoice_id", invoice.ID.String(), "error", err)
			continue
		}

		result, err := s.adapter.FindDocument(ctx, apiKey, provider.DocumentQuery{IdempotencyRef: invoice.IdempotencyRef})
		switch {
		case err == nil:
			if _, ferr := s.finalize(ctx, invoice.ID, cert.ID, invoice.PaymentID, result, now); ferr != nil {
				s.logger.Error("reconcile finalize failed", "invoice_id", invoice.ID.String(), "error", ferr)
				continue
			}
			recovered++
			if s.metrics != nil {
				s.metrics.ReconcileRecovered.Inc()
			}
			s.emitAudit(ctx, audit.Event{
				Action:     audit.ActionInvoiceReconciled,
				EntityType: "invoice",
				EntityID:   invoice.ID.String(),
				After:      result.FiscalID,
			})
		case provider.CategoryOf(err) == provider.ErrorNotFound:
			// The stamp never happened; release the row to the error state
			// so issuance can be retried.
			if _, aerr := s.invoices.Apply(ctx, invoice.ID, func(current models.Invoice) (models.Invoice, error) {
				return current.WithStampFailed("stamp not found at provider during reconciliation", "", now), nil
			}); aerr != nil {
				s.logger.Error("reconcile mark failed", "invoice_id", invoice.ID.String(), "error", aerr)
			}
		default:
			s.logger.Warn("reconcile query failed", "invoice_id", invoice.ID.String(), "error", err)
		}
	}
	return recovered, nil
}

func (s *Service) usableCertificate(ctx context.Context, tenantID id.TenantID, now time.Time) (*certmodels.Record, error) {
	cert, err := s.certs.FindUsableByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeConflict, "tenant has no usable signing certificate")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}
	if !cert.Usable(now) {
		return nil, dErrors.New(dErrors.CodeConflict, "signing certificate is outside its validity window")
	}
	if !cert.Uploaded {
		return nil, dErrors.New(dErrors.CodeConflict, "signing certificate is not provisioned at the provider yet")
	}
	return cert, nil
}

// credentials resolves the tenant's provider org and live issuance key. The
// org ref comes from the local mapping only; see the provider package doc.
func (s *Service) credentials(ctx context.Context, tenantID id.TenantID, cert *certmodels.Record) (string, error) {
	ref, err := s.adapter.GetOrCreateOrganization(ctx, tenantID, provider.Organization{
		TaxID:     cert.TaxID,
		LegalName: cert.SubjectName,
	})
	if err != nil {
		return "", translateProviderError(err)
	}
	apiKey, err := s.adapter.GetOrCreateLiveCredential(ctx, ref)
	if err != nil {
		return "", translateProviderError(err)
	}
	return apiKey, nil
}

// translateProviderError maps the adapter taxonomy onto domain codes so the
// transport layer renders sensible statuses.
func translateProviderError(err error) error {
	switch provider.CategoryOf(err) {
	case provider.ErrorRejected, provider.ErrorBadData:
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "provider rejected the document")
	case provider.ErrorNotFound:
		return dErrors.Wrap(err, dErrors.CodeNotFound, "document not found at provider")
	case provider.ErrorTimeout, provider.ErrorOutage, provider.ErrorRateLimited:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "provider is temporarily unavailable")
	case provider.ErrorAuthentication:
		return dErrors.Wrap(err, dErrors.CodeInternal, "provider credentials are misconfigured")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "provider call failed")
	}
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

package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"timbre/internal/audit"
	"timbre/internal/certificate/crypto"
	certmodels "timbre/internal/certificate/models"
	certstore "timbre/internal/certificate/store/certificate"
	"timbre/internal/invoice/builder"
	"timbre/internal/invoice/models"
	invoicestore "timbre/internal/invoice/store/invoice"
	"timbre/internal/provider"
	"timbre/internal/provider/fake"
	id "timbre/pkg/domain"
	dErrors "timbre/pkg/domain-errors"
	"timbre/pkg/requestcontext"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type paymentMarkerStub struct {
	calls []id.PaymentID
}

func (p *paymentMarkerStub) MarkInvoiced(_ context.Context, paymentID id.PaymentID, _ id.InvoiceID, _ string) error {
	p.calls = append(p.calls, paymentID)
	return nil
}

type InvoiceServiceSuite struct {
	suite.Suite
	ctx      context.Context
	invoices *invoicestore.InMemory
	certs    *certstore.InMemory
	adapter  *fake.Adapter
	auditor  *audit.InMemory
	payments *paymentMarkerStub
	service  *Service
	tenantID id.TenantID
	certID   id.CertificateID
}

func TestInvoiceServiceSuite(t *testing.T) {
	suite.Run(t, new(InvoiceServiceSuite))
}

func (s *InvoiceServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), testNow)
	s.invoices = invoicestore.NewInMemory()
	s.certs = certstore.NewInMemory()
	s.adapter = fake.New()
	s.auditor = audit.NewInMemory()
	s.payments = &paymentMarkerStub{}
	s.tenantID = id.TenantID(uuid.New())
	s.certID = id.CertificateID(uuid.New())

	record, err := certmodels.NewRecord(
		s.certID, s.tenantID,
		"30001000000400002463", "ACME SA DE CV",
		"AC del SAT", "SAT", "AAA010101AAA",
		testNow.AddDate(-1, 0, 0), testNow.AddDate(1, 0, 0),
		crypto.EncryptedBundle{KeyRef: crypto.SlotCurrent},
		testNow,
	)
	s.Require().NoError(err)
	uploaded := record.WithUploaded(`{"fake":true}`, testNow)
	s.Require().NoError(s.certs.Create(s.ctx, &uploaded))

	s.service = New(s.invoices, s.certs, builder.New(), s.adapter,
		WithAuditPublisher(audit.NewPublisher(s.auditor)),
		WithPaymentMarker(s.payments),
	)
}

func (s *InvoiceServiceSuite) issueRequest() IssueRequest {
	return IssueRequest{
		TenantID:       s.tenantID,
		PaymentID:      id.PaymentID(uuid.New()),
		Series:         "A",
		RecipientTaxID: "XAXX010101000",
		RecipientName:  "PUBLICO EN GENERAL",
		Total:          "116.00",
		TaxRate:        "0.16",
		Description:    "Servicio mensual",
	}
}

func (s *InvoiceServiceSuite) TestIssueSuccess() {
	req := s.issueRequest()
	invoice, err := s.service.Issue(s.ctx, req)
	s.Require().NoError(err)

	s.Equal(models.StatusStamped, invoice.Status)
	s.Equal(int64(1), invoice.Folio)
	s.NotEmpty(invoice.FiscalID)
	s.NotEmpty(invoice.ProviderDocID)
	s.NotEmpty(invoice.XMLArtifact)
	s.NotEmpty(invoice.PDFArtifact)
	s.Equal("100", invoice.Subtotal.String())
	s.Equal("16", invoice.TaxTotal.String())

	// The provider saw the idempotency reference.
	_, stamped := s.adapter.Stamped(invoice.IdempotencyRef)
	s.True(stamped)

	// Certificate usage advanced, payment marked.
	cert, err := s.certs.FindByID(s.ctx, s.certID)
	s.Require().NoError(err)
	s.Equal(1, cert.UsageCount)
	s.Equal([]id.PaymentID{req.PaymentID}, s.payments.calls)

	events := s.auditor.All()
	s.Require().NotEmpty(events)
	s.Equal(audit.ActionInvoiceStamped, events[len(events)-1].Action)
}

func (s *InvoiceServiceSuite) TestIssueAllocatesSequentialFolios() {
	first, err := s.service.Issue(s.ctx, s.issueRequest())
	s.Require().NoError(err)
	second, err := s.service.Issue(s.ctx, s.issueRequest())
	s.Require().NoError(err)

	s.Equal(int64(1), first.Folio)
	s.Equal(int64(2), second.Folio)
}

func (s *InvoiceServiceSuite) TestIssueRequiresUsableCertificate() {
	_, err := s.service.Issue(s.ctx, IssueRequest{
		TenantID: id.TenantID(uuid.New()),
		Total:    "116.00",
		TaxRate:  "0.16",
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *InvoiceServiceSuite) TestIssueRejectsCertificateOutsideValidityWindow() {
	expired, err := certmodels.NewRecord(
		id.CertificateID(uuid.New()), id.TenantID(uuid.New()),
		"30001000000400002464", "EXPIRADO SA DE CV",
		"AC del SAT", "SAT", "BBB010101BBB",
		testNow.AddDate(-5, 0, 0), testNow.AddDate(-1, 0, 0),
		crypto.EncryptedBundle{KeyRef: crypto.SlotCurrent},
		testNow.AddDate(-5, 0, 0),
	)
	s.Require().NoError(err)
	uploaded := expired.WithUploaded(`{"fake":true}`, testNow)
	s.Require().NoError(s.certs.Create(s.ctx, &uploaded))

	req := s.issueRequest()
	req.TenantID = expired.TenantID
	_, err = s.service.Issue(s.ctx, req)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	pending, err := certmodels.NewRecord(
		id.CertificateID(uuid.New()), id.TenantID(uuid.New()),
		"30001000000400002465", "FUTURO SA DE CV",
		"AC del SAT", "SAT", "CCC010101CCC",
		testNow.AddDate(0, 1, 0), testNow.AddDate(4, 1, 0),
		crypto.EncryptedBundle{KeyRef: crypto.SlotCurrent},
		testNow,
	)
	s.Require().NoError(err)
	uploaded = pending.WithUploaded(`{"fake":true}`, testNow)
	s.Require().NoError(s.certs.Create(s.ctx, &uploaded))

	req = s.issueRequest()
	req.TenantID = pending.TenantID
	_, err = s.service.Issue(s.ctx, req)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *InvoiceServiceSuite) TestIssueRejectsBadAmounts() {
	req := s.issueRequest()
	req.Total = "not-a-number"
	_, err := s.service.Issue(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	req = s.issueRequest()
	req.Total = "-5.00"
	_, err = s.service.Issue(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	req = s.issueRequest()
	req.TaxRate = "1.16"
	_, err = s.service.Issue(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *InvoiceServiceSuite) TestIssueProviderRejectionIsRecorded() {
	s.adapter.FailIssue = provider.NewError(provider.ErrorRejected, "fake", "invalid recipient rfc", nil)

	_, err := s.service.Issue(s.ctx, s.issueRequest())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	// The invoice row survives in error state with the raw diagnosis.
	failed, err := s.invoices.ListByStatus(s.ctx, models.StatusError)
	s.Require().NoError(err)
	s.Require().Len(failed, 1)
	s.Contains(failed[0].LastError, "invalid recipient rfc")
	s.Equal(int64(1), failed[0].Folio, "the folio stays consumed")

	// A rejection is permanent: exactly one provider attempt.
	s.Equal(1, s.adapter.IssueCalls)
}

func (s *InvoiceServiceSuite) TestIssueRetriesOutages() {
	s.adapter.FailIssue = provider.NewError(provider.ErrorOutage, "fake", "down", nil)

	_, err := s.service.Issue(s.ctx, s.issueRequest())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Equal(3, s.adapter.IssueCalls, "outages are retried up to the attempt bound")
}

func (s *InvoiceServiceSuite) TestCancel() {
	invoice, err := s.service.Issue(s.ctx, s.issueRequest())
	s.Require().NoError(err)

	cancelled, err := s.service.Cancel(s.ctx, s.tenantID, invoice.FiscalID, "02")
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, cancelled.Status)
	s.Equal("02", cancelled.CancelReason)

	reason, ok := s.adapter.CancelledReason(invoice.ProviderDocID)
	s.Require().True(ok)
	s.Equal("02", reason)
}

func (s *InvoiceServiceSuite) TestCancelValidations() {
	invoice, err := s.service.Issue(s.ctx, s.issueRequest())
	s.Require().NoError(err)

	_, err = s.service.Cancel(s.ctx, s.tenantID, invoice.FiscalID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = s.service.Cancel(s.ctx, s.tenantID, "no-such-fiscal-id", "02")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	// Another tenant's fiscal id looks like a miss.
	_, err = s.service.Cancel(s.ctx, id.TenantID(uuid.New()), invoice.FiscalID, "02")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	// Double cancellation violates the state machine.
	_, err = s.service.Cancel(s.ctx, s.tenantID, invoice.FiscalID, "02")
	s.Require().NoError(err)
	_, err = s.service.Cancel(s.ctx, s.tenantID, invoice.FiscalID, "03")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *InvoiceServiceSuite) TestCancelFallsBackToProviderLookup() {
	invoice, err := s.service.Issue(s.ctx, s.issueRequest())
	s.Require().NoError(err)

	// Legacy rows may lack the provider document id.
	_, err = s.invoices.Apply(s.ctx, invoice.ID, func(current models.Invoice) (models.Invoice, error) {
		current.ProviderDocID = ""
		return current, nil
	})
	s.Require().NoError(err)

	cancelled, err := s.service.Cancel(s.ctx, s.tenantID, invoice.FiscalID, "02")
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, cancelled.Status)
}

func (s *InvoiceServiceSuite) TestReconcileFinalizesStampedOrphans() {
	// Simulate a crash after the provider stamped but before the finalize:
	// the row sits in StatusStamping and the provider already knows the ref.
	orphan := &models.Invoice{
		ID:             id.InvoiceID(uuid.New()),
		TenantID:       s.tenantID,
		PaymentID:      id.PaymentID(uuid.New()),
		Series:         "A",
		Status:         models.StatusStamping,
		IdempotencyRef: uuid.NewString(),
		CreatedAt:      testNow.Add(-time.Hour),
		UpdatedAt:      testNow.Add(-time.Hour),
	}
	s.Require().NoError(s.invoices.CreateWithFolio(s.ctx, orphan))

	_, err := s.adapter.IssueDocument(s.ctx, "key", provider.StampRequest{
		IdempotencyRef: orphan.IdempotencyRef,
	})
	s.Require().NoError(err)

	recovered, err := s.service.ReconcilePending(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, recovered)

	final, err := s.invoices.FindByID(s.ctx, orphan.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusStamped, final.Status)
	s.NotEmpty(final.FiscalID)
}

func (s *InvoiceServiceSuite) TestReconcileReleasesUnstampedRows() {
	stuck := &models.Invoice{
		ID:             id.InvoiceID(uuid.New()),
		TenantID:       s.tenantID,
		PaymentID:      id.PaymentID(uuid.New()),
		Series:         "A",
		Status:         models.StatusStamping,
		IdempotencyRef: uuid.NewString(),
		CreatedAt:      testNow.Add(-time.Hour),
		UpdatedAt:      testNow.Add(-time.Hour),
	}
	s.Require().NoError(s.invoices.CreateWithFolio(s.ctx, stuck))

	recovered, err := s.service.ReconcilePending(s.ctx)
	s.Require().NoError(err)
	s.Zero(recovered)

	final, err := s.invoices.FindByID(s.ctx, stuck.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusError, final.Status)
}

func (s *InvoiceServiceSuite) TestReconcileSkipsFreshRows() {
	fresh := &models.Invoice{
		ID:             id.InvoiceID(uuid.New()),
		TenantID:       s.tenantID,
		PaymentID:      id.PaymentID(uuid.New()),
		Status:         models.StatusStamping,
		IdempotencyRef: uuid.NewString(),
		CreatedAt:      testNow.Add(-time.Second),
		UpdatedAt:      testNow.Add(-time.Second),
	}
	s.Require().NoError(s.invoices.CreateWithFolio(s.ctx, fresh))

	_, err := s.service.ReconcilePending(s.ctx)
	s.Require().NoError(err)

	final, err := s.invoices.FindByID(s.ctx, fresh.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusStamping, final.Status, "in-flight rows are left alone")
}

package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "timbre/pkg/domain"
	dErrors "timbre/pkg/domain-errors"
)

// Status tracks the invoice through the stamping flow.
type Status string

const (
	// StatusStamping is set when the local record is persisted, before the
	// provider call. Records stuck here are picked up by reconciliation.
	StatusStamping Status = "stamping"
	// StatusStamped means the provider returned a fiscal id and artifacts.
	StatusStamped Status = "stamped"
	// StatusError means the provider call failed; the raw response is kept
	// for diagnostics and the bounded async retry policy takes over.
	StatusError Status = "error"
	// StatusCancelled means the provider accepted a cancellation.
	StatusCancelled Status = "cancelled"
)

// Invoice is the locally persisted result of an issuance flow.
//
// The invoice is created in StatusStamping before the provider is called,
// carrying an IdempotencyRef the provider sees; if the process dies between
// a successful stamp and the local finalize, reconciliation re-queries the
// provider by that reference instead of double-stamping.
type Invoice struct {
	ID        id.InvoiceID
	TenantID  id.TenantID
	PaymentID id.PaymentID

	Series string
	Folio  int64

	Status Status

	RecipientName  string
	RecipientTaxID string
	RecipientEmail string

	Subtotal decimal.Decimal
	TaxTotal decimal.Decimal
	Total    decimal.Decimal
	Currency string

	// IdempotencyRef is sent to the provider with the issue request.
	IdempotencyRef string

	FiscalID      string // provider-assigned UUID, set on stamp
	ProviderDocID string // provider's own document id, used for cancellation
	XMLArtifact   []byte
	PDFArtifact   []byte

	ProviderResponse string
	LastError        string

	CancelReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// WithStamped returns a snapshot recording a successful stamp.
func (i Invoice) WithStamped(fiscalID, providerDocID string, xmlArtifact, pdfArtifact []byte, rawResponse string, now time.Time) Invoice {
	i.Status = StatusStamped
	i.FiscalID = fiscalID
	i.ProviderDocID = providerDocID
	i.XMLArtifact = xmlArtifact
	i.PDFArtifact = pdfArtifact
	i.ProviderResponse = rawResponse
	i.LastError = ""
	i.UpdatedAt = now
	return i
}

// WithStampFailed returns a snapshot in error state, retaining the raw
// provider response for diagnostics.
func (i Invoice) WithStampFailed(lastError, rawResponse string, now time.Time) Invoice {
	i.Status = StatusError
	i.LastError = lastError
	i.ProviderResponse = rawResponse
	i.UpdatedAt = now
	return i
}

// CanCancel checks the cancellation precondition.
func (i *Invoice) CanCancel() error {
	if i.Status != StatusStamped {
		return dErrors.New(dErrors.CodeInvariantViolation, "only stamped invoices can be cancelled")
	}
	return nil
}

// WithCancelled returns a cancelled snapshot.
func (i Invoice) WithCancelled(reasonCode string, now time.Time) Invoice {
	i.Status = StatusCancelled
	i.CancelReason = reasonCode
	i.UpdatedAt = now
	return i
}

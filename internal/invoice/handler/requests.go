package handler

import (
	"strings"

	id "timbre/pkg/domain"
	dErrors "timbre/pkg/domain-errors"
)

// IssueRequest is the HTTP request body for POST /invoices. Amounts travel
// as decimal strings; the service parses them exactly, never through floats.
type IssueRequest struct {
	PaymentID   string           `json:"payment_id"`
	Series      string           `json:"series"`
	Recipient   RecipientRequest `json:"recipient"`
	Total       string           `json:"total"`
	TaxRate     string           `json:"tax_rate"`
	Description string           `json:"description"`
	Currency    string           `json:"currency"`

	// Parsed values (populated by Validate)
	parsedPaymentID id.PaymentID
}

// RecipientRequest identifies the invoice recipient.
type RecipientRequest struct {
	TaxID   string `json:"tax_id"`
	Name    string `json:"name"`
	ZipCode string `json:"zip_code"`
	Email   string `json:"email"`
}

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *IssueRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	paymentID, err := id.ParsePaymentID(strings.TrimSpace(r.PaymentID))
	if err != nil {
		return err
	}
	r.parsedPaymentID = paymentID

	r.Series = strings.TrimSpace(r.Series)
	if r.Series == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "series is required")
	}
	r.Recipient.TaxID = strings.ToUpper(strings.TrimSpace(r.Recipient.TaxID))
	if r.Recipient.TaxID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "recipient.tax_id is required")
	}
	r.Recipient.Name = strings.TrimSpace(r.Recipient.Name)
	if r.Recipient.Name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "recipient.name is required")
	}
	if strings.TrimSpace(r.Total) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "total is required")
	}
	if strings.TrimSpace(r.TaxRate) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "tax_rate is required")
	}

	return nil
}

// ParsedPaymentID returns the validated payment ID.
func (r *IssueRequest) ParsedPaymentID() id.PaymentID {
	return r.parsedPaymentID
}

// CancelRequest is the HTTP request body for POST /cancellations.
type CancelRequest struct {
	FiscalID   string `json:"fiscal_id"`
	ReasonCode string `json:"reason_code"`
}

// Validate validates the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *CancelRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.FiscalID = strings.TrimSpace(r.FiscalID)
	if r.FiscalID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "fiscal_id is required")
	}
	r.ReasonCode = strings.TrimSpace(r.ReasonCode)
	if r.ReasonCode == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "reason_code is required")
	}
	return nil
}

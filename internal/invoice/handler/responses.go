package handler

import (
	"encoding/base64"
	"time"

	"timbre/internal/invoice/models"
)

// InvoiceResponse is the HTTP view of an invoice. Amounts are decimal
// strings and artifacts travel base64-encoded.
type InvoiceResponse struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Series    string `json:"series"`
	Folio     int64  `json:"folio"`
	Status    string `json:"status"`

	Recipient RecipientResponse `json:"recipient"`

	Subtotal string `json:"subtotal"`
	TaxTotal string `json:"tax_total"`
	Total    string `json:"total"`
	Currency string `json:"currency"`

	FiscalID string `json:"fiscal_id,omitempty"`
	XML      string `json:"xml,omitempty"`
	PDF      string `json:"pdf,omitempty"`

	CancelReason string `json:"cancel_reason,omitempty"`
	LastError    string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecipientResponse is the recipient portion of the response.
type RecipientResponse struct {
	TaxID string `json:"tax_id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// FromInvoice converts a domain invoice to an HTTP response.
func FromInvoice(invoice *models.Invoice) *InvoiceResponse {
	return &InvoiceResponse{
		ID:        invoice.ID.String(),
		PaymentID: invoice.PaymentID.String(),
		Series:    invoice.Series,
		Folio:     invoice.Folio,
		Status:    string(invoice.Status),
		Recipient: RecipientResponse{
			TaxID: invoice.RecipientTaxID,
			Name:  invoice.RecipientName,
			Email: invoice.RecipientEmail,
		},
		Subtotal:     invoice.Subtotal.String(),
		TaxTotal:     invoice.TaxTotal.String(),
		Total:        invoice.Total.String(),
		Currency:     invoice.Currency,
		FiscalID:     invoice.FiscalID,
		XML:          base64.StdEncoding.EncodeToString(invoice.XMLArtifact),
		PDF:          base64.StdEncoding.EncodeToString(invoice.PDFArtifact),
		CancelReason: invoice.CancelReason,
		LastError:    invoice.LastError,
		CreatedAt:    invoice.CreatedAt,
		UpdatedAt:    invoice.UpdatedAt,
	}
}

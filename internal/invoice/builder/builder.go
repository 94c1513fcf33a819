// Package builder derives the canonical tax document from a payment.
//
// Amounts arrive tax-inclusive. The subtotal is the rounded tax-exclusive
// value and the tax is computed as the RESIDUAL total − subtotal, never as
// rate × subtotal: the residual is what makes subtotal + tax reconstruct the
// charged total exactly at 2-decimal precision. Deriving tax independently
// can disagree with the charged amount by one cent, which stamping
// authorities reject.
package builder

import (
	"time"

	"github.com/shopspring/decimal"

	"timbre/internal/invoice/models"
	dErrors "timbre/pkg/domain-errors"
)

// Catalog codes for the synthetic payment concept. The primary flow issues
// one line item representing the full payment.
const (
	DefaultProductCode = "84111506" // servicios de facturación
	DefaultUnitCode    = "E48"      // unidad de servicio
	DefaultDescription = "Pago de servicios"

	DefaultCurrency      = "MXN"
	DefaultPaymentForm   = "03"  // transferencia electrónica
	DefaultPaymentMethod = "PUE" // pago en una sola exhibición

	taxCodeIVA      = "002"
	taxKindTransfer = "Traslado"
)

var one = decimal.NewFromInt(1)

// Request carries everything needed to build a document.
type Request struct {
	Issuer    models.Party
	Recipient models.Party
	// Total is the tax-inclusive amount charged.
	Total decimal.Decimal
	// Rate is the tax rate as a fraction, e.g. 0.16.
	Rate        decimal.Decimal
	Currency    string
	Description string
	Series      string
	Folio       int64
	IssuedAt    time.Time
}

// Builder assembles tax documents. It is pure and stateless; a zero Builder
// is usable.
type Builder struct{}

// New returns a document builder.
func New() *Builder { return &Builder{} }

// Build derives subtotal and tax from the tax-inclusive total and assembles
// the single-concept document.
func (b *Builder) Build(req Request) (*models.TaxDocument, error) {
	if !req.Total.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invoice total must be positive")
	}
	if !req.Rate.IsPositive() || req.Rate.GreaterThanOrEqual(one) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "tax rate must be between 0 and 1 exclusive")
	}

	subtotal := roundHalfUp(req.Total.Div(one.Add(req.Rate)))
	tax := req.Total.Sub(subtotal)

	currency := req.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	description := req.Description
	if description == "" {
		description = DefaultDescription
	}

	concept := models.Concept{
		ProductCode: DefaultProductCode,
		UnitCode:    DefaultUnitCode,
		Description: description,
		Quantity:    one,
		UnitPrice:   subtotal,
		Amount:      subtotal,
		Taxes: []models.TaxLine{{
			Code:   taxCodeIVA,
			Kind:   taxKindTransfer,
			Base:   subtotal,
			Rate:   req.Rate,
			Amount: tax,
		}},
	}

	return &models.TaxDocument{
		Issuer:        req.Issuer,
		Recipient:     req.Recipient,
		Concepts:      []models.Concept{concept},
		Subtotal:      subtotal,
		TaxTotal:      tax,
		Total:         req.Total,
		Currency:      currency,
		PaymentForm:   DefaultPaymentForm,
		PaymentMethod: DefaultPaymentMethod,
		Series:        req.Series,
		Folio:         req.Folio,
		IssuedAt:      req.IssuedAt,
	}, nil
}

// roundHalfUp rounds to 2 decimals with ties going up, matching the fiscal
// rounding rule for amounts.
func roundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

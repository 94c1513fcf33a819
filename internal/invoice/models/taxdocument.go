// Package models defines the invoice aggregate and the canonical tax
// document submitted for stamping.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Party identifies one side of a tax document.
type Party struct {
	TaxID     string
	LegalName string
	ZipCode   string
	TaxRegime string
	Email     string
}

// TaxLine is the per-concept tax breakdown.
type TaxLine struct {
	Code   string // tax catalog code, "002" = IVA
	Kind   string // "Traslado" (transferred) — withholdings are out of scope
	Base   decimal.Decimal
	Rate   decimal.Decimal
	Amount decimal.Decimal
}

// Concept is one line item.
type Concept struct {
	ProductCode string // product/service classification catalog code
	UnitCode    string // unit-of-measure catalog code
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Amount      decimal.Decimal
	Taxes       []TaxLine
}

// TaxDocument is the canonical invoice representation handed to provider
// adapters. It is a transient value: built, submitted, never persisted.
//
// Invariant: Subtotal + TaxTotal == Total exactly at 2-decimal precision.
type TaxDocument struct {
	Issuer        Party
	Recipient     Party
	Concepts      []Concept
	Subtotal      decimal.Decimal
	TaxTotal      decimal.Decimal
	Total         decimal.Decimal
	Currency      string
	PaymentForm   string // payment form catalog code, "03" = electronic transfer
	PaymentMethod string // "PUE" = single up-front payment
	Series        string
	Folio         int64
	IssuedAt      time.Time
}

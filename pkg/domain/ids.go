// Package domain defines strongly typed identifiers shared across modules.
//
// Each entity gets its own UUID-backed type so the compiler rejects
// cross-entity assignment (a CertificateID can never be passed where an
// InvoiceID is expected). Parse helpers enforce the invariant that IDs are
// valid, non-nil UUIDs at trust boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "timbre/pkg/domain-errors"
)

type (
	// TenantID identifies an issuing tenant (the legal entity that owns a CSD).
	TenantID uuid.UUID
	// CertificateID identifies a stored certificate record.
	CertificateID uuid.UUID
	// InvoiceID identifies a locally persisted invoice.
	InvoiceID uuid.UUID
	// PaymentID identifies the source payment an invoice was built from.
	PaymentID uuid.UUID
)

func (id TenantID) String() string      { return uuid.UUID(id).String() }
func (id CertificateID) String() string { return uuid.UUID(id).String() }
func (id InvoiceID) String() string     { return uuid.UUID(id).String() }
func (id PaymentID) String() string     { return uuid.UUID(id).String() }

func (id TenantID) IsZero() bool      { return uuid.UUID(id) == uuid.Nil }
func (id CertificateID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }
func (id InvoiceID) IsZero() bool     { return uuid.UUID(id) == uuid.Nil }
func (id PaymentID) IsZero() bool     { return uuid.UUID(id) == uuid.Nil }

// ParseTenantID parses and validates a tenant ID string.
func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s, "tenant id")
	return TenantID(u), err
}

// ParseCertificateID parses and validates a certificate ID string.
func ParseCertificateID(s string) (CertificateID, error) {
	u, err := parseUUID(s, "certificate id")
	return CertificateID(u), err
}

// ParseInvoiceID parses and validates an invoice ID string.
func ParseInvoiceID(s string) (InvoiceID, error) {
	u, err := parseUUID(s, "invoice id")
	return InvoiceID(u), err
}

// ParsePaymentID parses and validates a payment ID string.
func ParsePaymentID(s string) (PaymentID, error) {
	u, err := parseUUID(s, "payment id")
	return PaymentID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be the nil UUID")
	}
	return u, nil
}

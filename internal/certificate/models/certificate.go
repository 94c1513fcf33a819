// Package models defines the certificate aggregate.
package models

import (
	"time"

	"timbre/internal/certificate/crypto"
	id "timbre/pkg/domain"
	dErrors "timbre/pkg/domain-errors"
)

// Record is the at-rest representation of a tenant's CSD.
//
// Invariants:
//   - SerialNumber is globally unique (enforced by the store)
//   - ValidFrom < ValidTo
//   - A record is created only after successful validation (IsValidated)
//   - Records are never deleted by this core; retention is a caller policy
//
// Local validity and provider upload are independent states: a record that
// failed provider provisioning stays valid locally (Uploaded=false, LastError
// set) and provisioning is retried later.
//
// State transitions return a new snapshot rather than mutating in place, so
// concurrent readers of a loaded record never observe half-applied changes.
// Stores apply snapshots under their own lock.
type Record struct {
	ID       id.CertificateID
	TenantID id.TenantID

	SerialNumber string
	SubjectName  string
	IssuerName   string
	IssuerOrg    string
	TaxID        string
	ValidFrom    time.Time
	ValidTo      time.Time

	// Registered fiscal identity as declared at upload. Needed whenever the
	// provider organization is (re)created, so it rides on the record rather
	// than only on the original request.
	ZipCode   string
	TaxRegime string
	Email     string

	Bundle crypto.EncryptedBundle

	IsActive    bool
	IsValidated bool

	Uploaded         bool
	ProviderResponse string
	LastError        string

	LastUsed   *time.Time
	UsageCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRecord builds a validated, active record. Called only after the
// validator accepted the certificate.
func NewRecord(certID id.CertificateID, tenantID id.TenantID, serial, subject, issuer, issuerOrg, taxID string, validFrom, validTo time.Time, bundle crypto.EncryptedBundle, now time.Time) (*Record, error) {
	if serial == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "certificate serial number cannot be empty")
	}
	if !validFrom.Before(validTo) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "certificate validity window is inverted")
	}
	return &Record{
		ID:           certID,
		TenantID:     tenantID,
		SerialNumber: serial,
		SubjectName:  subject,
		IssuerName:   issuer,
		IssuerOrg:    issuerOrg,
		TaxID:        taxID,
		ValidFrom:    validFrom,
		ValidTo:      validTo,
		Bundle:       bundle,
		IsActive:     true,
		IsValidated:  true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Usable reports whether the record can sign documents at the given time.
func (r *Record) Usable(now time.Time) bool {
	return r.IsActive && r.IsValidated &&
		r.ValidTo.After(now) && !r.ValidFrom.After(now)
}

// WithUploaded returns a snapshot recording a successful provider upload.
func (r Record) WithUploaded(providerResponse string, now time.Time) Record {
	r.Uploaded = true
	r.ProviderResponse = providerResponse
	r.LastError = ""
	r.UpdatedAt = now
	return r
}

// WithUploadFailed returns a snapshot recording a failed provider upload.
// The record stays locally valid; provisioning is retried by the caller.
func (r Record) WithUploadFailed(lastError string, now time.Time) Record {
	r.Uploaded = false
	r.LastError = lastError
	r.UpdatedAt = now
	return r
}

// WithUse returns a snapshot with the usage counter advanced.
func (r Record) WithUse(now time.Time) Record {
	used := now
	r.LastUsed = &used
	r.UsageCount++
	r.UpdatedAt = now
	return r
}

// CanDeactivate checks whether deactivation is allowed.
func (r *Record) CanDeactivate() error {
	if !r.IsActive {
		return dErrors.New(dErrors.CodeInvariantViolation, "certificate is already inactive")
	}
	return nil
}

// WithDeactivated returns an inactive snapshot.
func (r Record) WithDeactivated(now time.Time) Record {
	r.IsActive = false
	r.UpdatedAt = now
	return r
}

// WithRewrappedBundle returns a snapshot carrying a re-wrapped key bundle.
// Payload ciphertexts are unchanged by rotation.
func (r Record) WithRewrappedBundle(bundle crypto.EncryptedBundle, now time.Time) Record {
	r.Bundle = bundle
	r.UpdatedAt = now
	return r
}

package handler

import (
	"time"

	"timbre/internal/certificate/models"
)

// CertificateResponse is the public view of a certificate record. The
// encrypted key bundle never leaves the service.
type CertificateResponse struct {
	ID           string     `json:"id"`
	SerialNumber string     `json:"serial_number"`
	SubjectName  string     `json:"subject_name"`
	IssuerName   string     `json:"issuer_name"`
	TaxID        string     `json:"tax_id"`
	ValidFrom    time.Time  `json:"valid_from"`
	ValidTo      time.Time  `json:"valid_to"`
	IsActive     bool       `json:"is_active"`
	Provisioned  bool       `json:"provisioned"`
	LastError    string     `json:"last_error,omitempty"`
	UsageCount   int        `json:"usage_count"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// FromRecord converts a domain record to an HTTP response.
func FromRecord(record *models.Record) *CertificateResponse {
	return &CertificateResponse{
		ID:           record.ID.String(),
		SerialNumber: record.SerialNumber,
		SubjectName:  record.SubjectName,
		IssuerName:   record.IssuerName,
		TaxID:        record.TaxID,
		ValidFrom:    record.ValidFrom,
		ValidTo:      record.ValidTo,
		IsActive:     record.IsActive,
		Provisioned:  record.Uploaded,
		LastError:    record.LastError,
		UsageCount:   record.UsageCount,
		LastUsed:     record.LastUsed,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
}

// FromRecords converts a list of records, returning an empty slice rather
// than null for tenants with no certificates.
func FromRecords(records []*models.Record) []*CertificateResponse {
	out := make([]*CertificateResponse, 0, len(records))
	for _, record := range records {
		out = append(out, FromRecord(record))
	}
	return out
}

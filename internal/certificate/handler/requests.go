package handler

import (
	"encoding/base64"
	"strings"

	dErrors "timbre/pkg/domain-errors"
)

// CSD certificate and key files are a few KiB each; anything near this cap
// is not a certificate.
const maxEncodedArtifact = 64 * 1024

// UploadRequest is the HTTP request body for POST /certificates. The
// certificate and private key travel base64-encoded.
type UploadRequest struct {
	TaxID       string `json:"tax_id"`
	LegalName   string `json:"legal_name"`
	ZipCode     string `json:"zip_code"`
	TaxRegime   string `json:"tax_regime"`
	Email       string `json:"email"`
	Certificate string `json:"certificate"`
	PrivateKey  string `json:"private_key"`
	Passphrase  string `json:"passphrase"`

	// Parsed values (populated by Validate)
	certificate []byte
	privateKey  []byte
}

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *UploadRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	// Size validation (fail fast)
	if len(r.Certificate) > maxEncodedArtifact {
		return dErrors.New(dErrors.CodeInvalidInput, "certificate exceeds the maximum encoded size")
	}
	if len(r.PrivateKey) > maxEncodedArtifact {
		return dErrors.New(dErrors.CodeInvalidInput, "private_key exceeds the maximum encoded size")
	}

	// Required fields
	r.TaxID = strings.ToUpper(strings.TrimSpace(r.TaxID))
	if r.TaxID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "tax_id is required")
	}
	if len(r.TaxID) > 13 {
		return dErrors.New(dErrors.CodeInvalidInput, "tax_id must be at most 13 characters")
	}
	r.LegalName = strings.TrimSpace(r.LegalName)
	if r.LegalName == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "legal_name is required")
	}
	r.ZipCode = strings.TrimSpace(r.ZipCode)
	if r.ZipCode == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "zip_code is required")
	}
	r.TaxRegime = strings.TrimSpace(r.TaxRegime)
	if r.TaxRegime == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "tax_regime is required")
	}
	if r.Certificate == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "certificate is required")
	}
	if r.PrivateKey == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "private_key is required")
	}

	// Decode artifacts
	cert, err := base64.StdEncoding.DecodeString(r.Certificate)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "certificate must be base64-encoded")
	}
	r.certificate = cert

	key, err := base64.StdEncoding.DecodeString(r.PrivateKey)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "private_key must be base64-encoded")
	}
	r.privateKey = key

	return nil
}

// DecodedCertificate returns the decoded certificate bytes.
func (r *UploadRequest) DecodedCertificate() []byte { return r.certificate }

// DecodedPrivateKey returns the decoded private key bytes.
func (r *UploadRequest) DecodedPrivateKey() []byte { return r.privateKey }

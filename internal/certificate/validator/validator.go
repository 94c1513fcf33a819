// Package validator parses CSD certificates and checks that they belong to
// the tenant trying to register them.
//
// Validation composes five checks in a fixed order: private key load, tax id
// comparison, legal name similarity, issuer trust, and validity window. The
// first failure wins and its error carries a user-safe message; raw parser
// text never reaches callers.
package validator

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"timbre/internal/certificate/matcher"
)

// Failure kinds. Callers branch with errors.Is; the wrapped message carries
// the user-facing detail (expiry date, mismatched values).
var (
	ErrCertificateFormat = errors.New("certificate file is not a valid certificate")
	ErrTaxIDMismatch     = errors.New("certificate tax id does not match the registered tax id")
	ErrNameMismatch      = errors.New("certificate legal name does not match the registered legal name")
	ErrUntrustedIssuer   = errors.New("certificate was not issued by a recognized tax authority")
	ErrExpired           = errors.New("certificate has expired")
	ErrNotYetValid       = errors.New("certificate is not yet valid")
	ErrKeyPairMismatch   = errors.New("private key does not correspond to the certificate")
)

// x500UniqueIdentifier is the secondary subject attribute some tax
// authorities use for the holder's tax id.
var oidUniqueIdentifier = asn1.ObjectIdentifier{2, 5, 4, 45}

// trustedIssuerFragments are matched case-insensitively against the issuer's
// combined common name and organization. Containment (not equality) is
// intentional: authority names vary across certificate generations.
var trustedIssuerFragments = []string{
	"SERVICIO DE ADMINISTRACION TRIBUTARIA",
	"SECRETARIA DE HACIENDA Y CREDITO PUBLICO",
	"SAT",
}

// Identity is everything validation extracts from a certificate.
type Identity struct {
	SerialNumber string
	SubjectName  string
	IssuerName   string
	IssuerOrg    string
	ValidFrom    time.Time
	ValidTo      time.Time
	TaxID        string
}

// Result is returned on successful validation. It keeps references to the
// original payloads so the caller can hand them straight to encryption.
type Result struct {
	Identity         Identity
	Certificate      *x509.Certificate
	CertificateBytes []byte
	PrivateKeyBytes  []byte
	Passphrase       string
}

// Validator checks certificates against tenant identity and issuer trust.
type Validator struct {
	matcher *matcher.Matcher
}

// New constructs a validator using the given name matcher.
func New(m *matcher.Matcher) *Validator {
	return &Validator{matcher: m}
}

// Load parses certificate bytes, accepting PEM text or raw DER.
func Load(data []byte) (*x509.Certificate, error) {
	if len(data) == 0 {
		return nil, ErrCertificateFormat
	}
	der := data
	if looksTextual(data) {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, ErrCertificateFormat
		}
		der = block.Bytes
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, ErrCertificateFormat
	}
	return cert, nil
}

// ExtractIdentity reads the subject/issuer identity and validity window.
func ExtractIdentity(cert *x509.Certificate) Identity {
	return Identity{
		SerialNumber: formatSerial(cert),
		SubjectName:  cert.Subject.CommonName,
		IssuerName:   cert.Issuer.CommonName,
		IssuerOrg:    strings.Join(cert.Issuer.Organization, " "),
		ValidFrom:    cert.NotBefore.UTC(),
		ValidTo:      cert.NotAfter.UTC(),
		TaxID:        extractTaxID(cert),
	}
}

// Validate runs the full check sequence. now is passed explicitly so expiry
// boundaries are testable.
func (v *Validator) Validate(certBytes, keyBytes []byte, passphrase, expectedTaxID, expectedLegalName string, now time.Time) (*Result, error) {
	cert, err := Load(certBytes)
	if err != nil {
		return nil, err
	}
	identity := ExtractIdentity(cert)

	key, err := loadPrivateKey(keyBytes, passphrase)
	if err != nil {
		return nil, err
	}
	if err := verifyKeyPair(cert, key); err != nil {
		return nil, err
	}

	if expectedTaxID != "" && identity.TaxID != "" {
		if normalizeTaxID(expectedTaxID) != normalizeTaxID(identity.TaxID) {
			return nil, fmt.Errorf("%w: certificate has %q, tenant registered %q",
				ErrTaxIDMismatch, identity.TaxID, expectedTaxID)
		}
	}

	if expectedLegalName != "" {
		if !v.matcher.Matches(expectedLegalName, identity.SubjectName) {
			return nil, fmt.Errorf("%w: certificate subject is %q", ErrNameMismatch, identity.SubjectName)
		}
	}

	if !trustedIssuer(identity) {
		return nil, fmt.Errorf("%w: issuer is %q", ErrUntrustedIssuer, identity.IssuerName)
	}

	nowUTC := now.UTC()
	if !identity.ValidTo.After(nowUTC) {
		return nil, fmt.Errorf("%w: expired on %s", ErrExpired, identity.ValidTo.Format("2006-01-02"))
	}
	if identity.ValidFrom.After(nowUTC) {
		return nil, fmt.Errorf("%w: valid from %s", ErrNotYetValid, identity.ValidFrom.Format("2006-01-02"))
	}

	return &Result{
		Identity:         identity,
		Certificate:      cert,
		CertificateBytes: certBytes,
		PrivateKeyBytes:  keyBytes,
		Passphrase:       passphrase,
	}, nil
}

func trustedIssuer(identity Identity) bool {
	combined := strings.ToUpper(identity.IssuerName + " " + identity.IssuerOrg)
	combined = matcher.Normalize(combined)
	for _, fragment := range trustedIssuerFragments {
		if strings.Contains(combined, fragment) {
			return true
		}
	}
	return false
}

func extractTaxID(cert *x509.Certificate) string {
	if sn := strings.TrimSpace(cert.Subject.SerialNumber); sn != "" {
		return sn
	}
	for _, attr := range cert.Subject.Names {
		if attr.Type.Equal(oidUniqueIdentifier) {
			if s, ok := attr.Value.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// formatSerial renders the certificate serial. Tax authority CSDs encode the
// serial as ASCII digits inside the serial's big-endian bytes; fall back to
// hex when that is not the case.
func formatSerial(cert *x509.Certificate) string {
	raw := cert.SerialNumber.Bytes()
	if len(raw) > 0 && allASCIIDigits(raw) {
		return string(raw)
	}
	return fmt.Sprintf("%x", cert.SerialNumber)
}

func allASCIIDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func normalizeTaxID(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// looksTextual reports whether data appears PEM-armored rather than DER.
func looksTextual(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN"))
}

func verifyKeyPair(cert *x509.Certificate, key any) error {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		priv, ok := key.(*rsa.PrivateKey)
		if !ok || priv.N.Cmp(pub.N) != 0 {
			return ErrKeyPairMismatch
		}
	case *ecdsa.PublicKey:
		priv, ok := key.(*ecdsa.PrivateKey)
		if !ok || !priv.PublicKey.Equal(pub) {
			return ErrKeyPairMismatch
		}
	default:
		return ErrKeyPairMismatch
	}
	return nil
}

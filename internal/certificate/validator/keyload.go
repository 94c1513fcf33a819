package validator

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"

	"github.com/youmark/pkcs8"
)

// Key-load failures, already translated to user-safe messages.
var (
	ErrWrongPassword  = errors.New("private key password is incorrect")
	ErrUnsupportedKey = errors.New("private key format is not supported")
	ErrCorruptKeyFile = errors.New("private key file is corrupt or not a private key")
)

// loadPrivateKey parses a private key, attempting the password-protected
// PKCS#8 form first and falling back to the unprotected encodings. Accepts
// PEM text or raw DER.
func loadPrivateKey(data []byte, passphrase string) (any, error) {
	if len(data) == 0 {
		return nil, ErrCorruptKeyFile
	}
	der := data
	if looksTextual(data) {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, ErrCorruptKeyFile
		}
		der = block.Bytes
	}

	var protectedErr error
	if passphrase != "" {
		key, err := pkcs8.ParsePKCS8PrivateKey(der, []byte(passphrase))
		if err == nil {
			return key, nil
		}
		protectedErr = err
	}

	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}

	if protectedErr != nil {
		return nil, translateKeyError(protectedErr)
	}
	return nil, ErrCorruptKeyFile
}

// translateKeyError maps library failure text onto the three user-facing
// kinds. Substring matching on another library's messages is fragile, but the
// underlying parsers expose no typed errors for these cases; this is the
// single place that fragility lives.
func translateKeyError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "incorrect password"),
		strings.Contains(msg, "decryption password"),
		strings.Contains(msg, "authentication failed"),
		strings.Contains(msg, "invalid padding"),
		strings.Contains(msg, "integrity check"):
		// A wrong passphrase surfaces as garbage padding or a failed GCM tag,
		// never as a typed error.
		return ErrWrongPassword
	case strings.Contains(msg, "unsupported"),
		strings.Contains(msg, "unknown algorithm"),
		strings.Contains(msg, "not supported"):
		return ErrUnsupportedKey
	default:
		return ErrCorruptKeyFile
	}
}

// Package crypto implements envelope encryption for CSD material.
//
// Each certificate record gets a fresh random data key (DEK). The DEK
// encrypts the three sensitive payloads (certificate, private key,
// passphrase) independently under AES-256-GCM, then is itself wrapped under
// a key-encryption key (KEK) derived from the configured master secret.
// Rotating the master secret only requires re-wrapping DEKs, never
// re-encrypting payloads.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"

	dErrors "timbre/pkg/domain-errors"
)

// ErrDecryption signals that a payload could not be decrypted. A wrong master
// secret and a corrupted ciphertext are indistinguishable at the GCM layer,
// so both surface as this one error kind.
var ErrDecryption = errors.New("decryption failed")

// Master secret slots. Only SlotCurrent wraps new data keys; SlotNext lets
// records wrapped ahead of a rotation stay readable during rollout.
const (
	SlotCurrent = "current"
	SlotNext    = "next"
)

const (
	dekSize = 32
	// kekIterations is deliberately high; KEK derivation happens once per
	// record operation, not per request.
	kekIterations = 390_000
)

// kekSalt is fixed rather than per-record. This matches the historical wire
// format: wrapped keys produced before this service existed carry no salt,
// and changing it would orphan every stored record. Tracked as a known
// weakening in DESIGN.md.
var kekSalt = []byte("timbre.csd.kek.v1")

// MasterSecrets holds the two named master-secret slots.
type MasterSecrets struct {
	Current string
	Next    string
}

// EncryptedBundle is the at-rest representation of CSD material. All fields
// are base64; WrappedKey prepends the GCM nonce to the wrapped DEK, and
// KeyRef names the secret slot that wrapped it.
type EncryptedBundle struct {
	Certificate string
	PrivateKey  string
	Passphrase  string
	WrappedKey  string
	KeyRef      string
}

// Payload is a decrypted value. Text carries the UTF-8 content when the
// original was textual (PEM-like); for binary originals (DER-like) Text is
// the base64 encoding and Binary is set.
type Payload struct {
	Bytes  []byte
	Text   string
	Binary bool
}

// DecryptedBundle mirrors EncryptedBundle after unwrapping.
type DecryptedBundle struct {
	Certificate Payload
	PrivateKey  Payload
	Passphrase  string
}

// Service performs envelope encryption with the configured master secrets.
type Service struct {
	secrets MasterSecrets
}

// NewService constructs an envelope encryption service. The current master
// secret is mandatory; the next slot may be empty outside rotation windows.
func NewService(secrets MasterSecrets) (*Service, error) {
	if secrets.Current == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "current master secret is required")
	}
	return &Service{secrets: secrets}, nil
}

// Encrypt seals the certificate, private key, and passphrase under a fresh
// data key, wraps the data key under the current master secret, and returns
// the base64-encoded bundle.
func (s *Service) Encrypt(certificate, privateKey []byte, passphrase string) (*EncryptedBundle, error) {
	if len(certificate) == 0 || len(privateKey) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "certificate and private key are required")
	}

	dek := make([]byte, dekSize)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("generate data key: %w", err)
	}

	certCT, err := seal(dek, certificate)
	if err != nil {
		return nil, err
	}
	keyCT, err := seal(dek, privateKey)
	if err != nil {
		return nil, err
	}
	passCT, err := seal(dek, []byte(passphrase))
	if err != nil {
		return nil, err
	}

	wrapped, err := seal(s.kek(s.secrets.Current), dek)
	if err != nil {
		return nil, fmt.Errorf("wrap data key: %w", err)
	}

	return &EncryptedBundle{
		Certificate: base64.StdEncoding.EncodeToString(certCT),
		PrivateKey:  base64.StdEncoding.EncodeToString(keyCT),
		Passphrase:  base64.StdEncoding.EncodeToString(passCT),
		WrappedKey:  base64.StdEncoding.EncodeToString(wrapped),
		KeyRef:      SlotCurrent,
	}, nil
}

// Decrypt unwraps the bundle's data key and opens all three payloads.
// Unwrapping is attempted with the slot recorded in KeyRef first, then with
// the other configured slot, so records wrapped just before or after a
// rotation remain readable.
func (s *Service) Decrypt(bundle *EncryptedBundle) (*DecryptedBundle, error) {
	if bundle == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "encrypted bundle is required")
	}

	dek, err := s.unwrap(bundle)
	if err != nil {
		return nil, err
	}

	cert, err := openPayload(dek, bundle.Certificate)
	if err != nil {
		return nil, err
	}
	key, err := openPayload(dek, bundle.PrivateKey)
	if err != nil {
		return nil, err
	}
	pass, err := openPayload(dek, bundle.Passphrase)
	if err != nil {
		return nil, err
	}

	return &DecryptedBundle{
		Certificate: cert,
		PrivateKey:  key,
		Passphrase:  string(pass.Bytes),
	}, nil
}

// Rewrap re-wraps the bundle's data key under the current master secret
// without touching the payload ciphertexts. Used by the rotation job after
// the current slot advances.
func (s *Service) Rewrap(bundle *EncryptedBundle) (*EncryptedBundle, error) {
	dek, err := s.unwrap(bundle)
	if err != nil {
		return nil, err
	}
	wrapped, err := seal(s.kek(s.secrets.Current), dek)
	if err != nil {
		return nil, fmt.Errorf("rewrap data key: %w", err)
	}
	out := *bundle
	out.WrappedKey = base64.StdEncoding.EncodeToString(wrapped)
	out.KeyRef = SlotCurrent
	return &out, nil
}

func (s *Service) unwrap(bundle *EncryptedBundle) ([]byte, error) {
	wrapped, err := base64.StdEncoding.DecodeString(bundle.WrappedKey)
	if err != nil {
		return nil, ErrDecryption
	}

	for _, secret := range s.slotOrder(bundle.KeyRef) {
		if secret == "" {
			continue
		}
		dek, err := open(s.kek(secret), wrapped)
		if err == nil {
			return dek, nil
		}
	}
	return nil, ErrDecryption
}

// slotOrder yields candidate secrets, preferring the slot the bundle was
// wrapped under.
func (s *Service) slotOrder(keyRef string) []string {
	if keyRef == SlotNext {
		return []string{s.secrets.Next, s.secrets.Current}
	}
	return []string{s.secrets.Current, s.secrets.Next}
}

func (s *Service) kek(secret string) []byte {
	return pbkdf2.Key([]byte(secret), kekSalt, kekIterations, dekSize, sha256.New)
}

func seal(key, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, sealed []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrDecryption
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

func openPayload(dek []byte, encoded string) (Payload, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Payload{}, ErrDecryption
	}
	raw, err := open(dek, sealed)
	if err != nil {
		return Payload{}, err
	}
	if utf8.Valid(raw) {
		return Payload{Bytes: raw, Text: string(raw)}, nil
	}
	return Payload{Bytes: raw, Text: base64.StdEncoding.EncodeToString(raw), Binary: true}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

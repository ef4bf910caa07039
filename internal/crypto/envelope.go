package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Envelope implements the column-level symmetric envelope encryption
// spec.md §1 requires for TOTP/email MFA seeds, keyed from
// DEFGUARD_SECRET_KEY. The AEAD construction (XChaCha20-Poly1305,
// random-nonce-prefixed ciphertext) is grounded on
// and161185-goph-keeper's internal/crypto/clientcrypto/crypto.go.
type Envelope struct {
	key []byte // derived, 32 bytes
}

// NewEnvelope derives a 32-byte AEAD key from the raw secret via
// HKDF-SHA256, so DEFGUARD_SECRET_KEY need not itself be exactly 32
// bytes.
func NewEnvelope(secret []byte) (*Envelope, error) {
	if len(secret) == 0 {
		return nil, errors.New("crypto: envelope secret must not be empty")
	}
	r := hkdf.New(sha256.New, secret, nil, []byte("defguard-mfa-seed-envelope"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := r.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: derive envelope key: %w", err)
	}
	return &Envelope{key: key}, nil
}

// Seal encrypts plaintext, binding it to aad (typically the owning
// user's id) so a ciphertext cannot be replayed under a different
// user's row.
func (e *Envelope) Seal(plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, aad), nil
}

// Open decrypts a value produced by Seal with the same aad.
func (e *Envelope) Open(ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("crypto: envelope ciphertext too short")
	}
	nonce := ciphertext[:chacha20poly1305.NonceSizeX]
	ct := ciphertext[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, aad)
}

package security

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCiphertextInvalid is returned when stored token material cannot be
// decrypted (truncated, tampered, or encrypted under a different secret).
var ErrCiphertextInvalid = errors.New("ciphertext invalid")

// TokenCipher encrypts OAuth token material at rest with ChaCha20-Poly1305.
// The key is derived from an operator-supplied secret by a one-way hash, so
// the secret itself is never used directly as key material. Each ciphertext
// carries its random 96-bit nonce as a prefix.
type TokenCipher struct {
	key [32]byte
}

// NewTokenCipher derives the AEAD key from secret. secret must be non-empty.
func NewTokenCipher(secret string) (*TokenCipher, error) {
	if secret == "" {
		return nil, errors.New("token cipher: secret is empty")
	}
	return &TokenCipher{key: sha256.Sum256([]byte(secret))}, nil
}

// Encrypt seals plaintext and returns nonce||ciphertext.
func (c *TokenCipher) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("token cipher: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens nonce||ciphertext produced by Encrypt.
func (c *TokenCipher) Decrypt(sealed []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSize {
		return nil, ErrCiphertextInvalid
	}
	aead, err := chacha20poly1305.New(c.key[:])
	if err != nil {
		return nil, err
	}
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSize], sealed[chacha20poly1305.NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCiphertextInvalid
	}
	return plaintext, nil
}

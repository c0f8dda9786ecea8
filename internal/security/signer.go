// Package security holds the credential-signing and token-encryption primitives.
// It composes stdlib HMAC and x/crypto AEAD; it implements no crypto of its own.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer produces deterministic HMAC-SHA256 signatures over canonical QR
// payloads. The same payload and key always yield the same hex signature, so
// a stored signature can be re-checked against a re-rendered payload.
type Signer struct {
	key []byte
}

// NewSigner returns a Signer using the given secret key.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// Sign returns the hex-encoded HMAC-SHA256 of payload.
func (s *Signer) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is a valid hex HMAC-SHA256 of payload.
// Comparison is constant-time.
func (s *Signer) Verify(payload []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), want)
}

package domain

import "time"

// OAuthSession holds one member's upstream OAuth grant. Token material is
// stored only as AEAD ciphertext; the vault service decrypts at the edge and
// callers must treat the plaintext as a secret in transit.
type OAuthSession struct {
	ID                     string
	MemberID               string
	AccessTokenCiphertext  []byte
	RefreshTokenCiphertext []byte // nil when the grant had no refresh token
	Scope                  string
	ExpiresAt              time.Time
	CreatedAt              time.Time
	LastUsedAt             time.Time
}

// Expired reports whether the access token has reached its expiry.
func (s *OAuthSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

package repository

import (
	"context"
	"time"

	"membercard-engine/internal/tokenvault/domain"
)

// Repository defines persistence for OAuth sessions.
type Repository interface {
	// GetLatestByMember returns the most recently created session for the
	// member, or nil if the member has none.
	GetLatestByMember(ctx context.Context, memberID string) (*domain.OAuthSession, error)
	Create(ctx context.Context, s *domain.OAuthSession) error
	// UpdateTokens replaces the stored ciphertext pair and expiry after a
	// refresh. refreshCiphertext may be nil to keep the existing one.
	UpdateTokens(ctx context.Context, sessionID string, accessCiphertext, refreshCiphertext []byte, expiresAt time.Time) error
	TouchLastUsed(ctx context.Context, sessionID string, at time.Time) error
}

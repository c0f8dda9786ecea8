package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"membercard-engine/internal/security"
	"membercard-engine/internal/tokenvault/domain"
	"membercard-engine/internal/tokenvault/repository"
)

var (
	// ErrNoSession means the member has never granted OAuth access.
	ErrNoSession = errors.New("no oauth session for member")
	// ErrRefreshFailed means the stored access token was expired and the
	// refresh-grant exchange did not produce a new one.
	ErrRefreshFailed = errors.New("oauth token refresh failed")
)

// Vault hands out usable access tokens for members. Tokens are stored
// encrypted; a refreshed token is persisted before the plaintext is returned,
// so a crash after refresh never loses the new grant.
type Vault struct {
	sessions  repository.Repository
	cipher    *security.TokenCipher
	refresher TokenRefresher
	now       func() time.Time
}

func NewVault(sessions repository.Repository, cipher *security.TokenCipher, refresher TokenRefresher) *Vault {
	return &Vault{
		sessions:  sessions,
		cipher:    cipher,
		refresher: refresher,
		now:       time.Now,
	}
}

// ValidAccessToken returns a decrypted, unexpired access token for the member,
// refreshing against the upstream provider when the stored one has expired.
func (v *Vault) ValidAccessToken(ctx context.Context, memberID string) (string, error) {
	session, err := v.sessions.GetLatestByMember(ctx, memberID)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return "", ErrNoSession
	}

	if !session.Expired(v.now()) {
		plaintext, err := v.cipher.Decrypt(session.AccessTokenCiphertext)
		if err != nil {
			return "", fmt.Errorf("decrypt access token: %w", err)
		}
		if err := v.sessions.TouchLastUsed(ctx, session.ID, v.now()); err != nil {
			log.Printf("tokenvault: touch session %s: %v", session.ID, err)
		}
		return string(plaintext), nil
	}

	return v.refresh(ctx, session)
}

// ForceRefresh refreshes regardless of the stored expiry. Used when the
// upstream rejects a token the clock still considers valid.
func (v *Vault) ForceRefresh(ctx context.Context, memberID string) (string, error) {
	session, err := v.sessions.GetLatestByMember(ctx, memberID)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return "", ErrNoSession
	}
	return v.refresh(ctx, session)
}

func (v *Vault) refresh(ctx context.Context, session *domain.OAuthSession) (string, error) {
	if session.RefreshTokenCiphertext == nil {
		return "", fmt.Errorf("%w: session has no refresh token", ErrRefreshFailed)
	}
	refreshToken, err := v.cipher.Decrypt(session.RefreshTokenCiphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}

	grant, err := v.refresher.Refresh(ctx, string(refreshToken))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	accessCiphertext, err := v.cipher.Encrypt([]byte(grant.AccessToken))
	if err != nil {
		return "", fmt.Errorf("encrypt refreshed access token: %w", err)
	}
	var refreshCiphertext []byte
	if grant.RefreshToken != "" {
		refreshCiphertext, err = v.cipher.Encrypt([]byte(grant.RefreshToken))
		if err != nil {
			return "", fmt.Errorf("encrypt rotated refresh token: %w", err)
		}
	}

	// Persist before returning the plaintext so the refreshed grant survives
	// a crash between refresh and use.
	if err := v.sessions.UpdateTokens(ctx, session.ID, accessCiphertext, refreshCiphertext, grant.ExpiresAt); err != nil {
		return "", fmt.Errorf("persist refreshed tokens: %w", err)
	}
	return grant.AccessToken, nil
}

// StoreSession encrypts and persists a freshly granted token pair for the
// member and returns the stored session.
func (v *Vault) StoreSession(ctx context.Context, memberID, accessToken, refreshToken, scope string, expiresAt time.Time) (*domain.OAuthSession, error) {
	accessCiphertext, err := v.cipher.Encrypt([]byte(accessToken))
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	var refreshCiphertext []byte
	if refreshToken != "" {
		refreshCiphertext, err = v.cipher.Encrypt([]byte(refreshToken))
		if err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	now := v.now()
	session := &domain.OAuthSession{
		ID:                     uuid.NewString(),
		MemberID:               memberID,
		AccessTokenCiphertext:  accessCiphertext,
		RefreshTokenCiphertext: refreshCiphertext,
		Scope:                  scope,
		ExpiresAt:              expiresAt,
		CreatedAt:              now,
		LastUsedAt:             now,
	}
	if err := v.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"membercard-engine/internal/tokenvault/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an OAuth session repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetLatestByMember returns the most recent session for the member, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetLatestByMember(ctx context.Context, memberID string) (*domain.OAuthSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, member_id, access_token, refresh_token, scope, expires_at, created_at, last_used_at
		FROM oauth_sessions
		WHERE member_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, memberID)
	var s domain.OAuthSession
	err := row.Scan(&s.ID, &s.MemberID, &s.AccessTokenCiphertext, &s.RefreshTokenCiphertext,
		&s.Scope, &s.ExpiresAt, &s.CreatedAt, &s.LastUsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Create persists the session. The session must have ID and timestamps set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.OAuthSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO oauth_sessions (id, member_id, access_token, refresh_token, scope, expires_at, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.MemberID, s.AccessTokenCiphertext, s.RefreshTokenCiphertext,
		s.Scope, s.ExpiresAt, s.CreatedAt, s.LastUsedAt)
	return err
}

// UpdateTokens replaces the ciphertext pair and expiry. A nil refreshCiphertext
// keeps the stored refresh token (upstream refreshes often omit a new one).
func (r *PostgresRepository) UpdateTokens(ctx context.Context, sessionID string, accessCiphertext, refreshCiphertext []byte, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE oauth_sessions
		SET access_token = $2,
		    refresh_token = COALESCE($3, refresh_token),
		    expires_at = $4,
		    last_used_at = now()
		WHERE id = $1`, sessionID, accessCiphertext, refreshCiphertext, expiresAt)
	return err
}

// TouchLastUsed stamps last_used_at.
func (r *PostgresRepository) TouchLastUsed(ctx context.Context, sessionID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE oauth_sessions SET last_used_at = $2 WHERE id = $1`, sessionID, at)
	return err
}

package repository

import (
	"context"
	"database/sql"
	"errors"

	"membercard-engine/internal/member/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a member repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const memberColumns = `id, upstream_user_id, display_name, COALESCE(avatar_url, ''), COALESCE(locale, ''), created_at, updated_at`

// GetByID returns the member for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Member, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id)
	return scanMember(row)
}

// GetByUpstreamUserID returns the member for the upstream platform user id, or nil if not found.
func (r *PostgresRepository) GetByUpstreamUserID(ctx context.Context, upstreamUserID string) (*domain.Member, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE upstream_user_id = $1`, upstreamUserID)
	return scanMember(row)
}

// Upsert inserts the member keyed by upstream_user_id, refreshing the mutable
// profile fields on conflict. The member must have ID and timestamps set.
func (r *PostgresRepository) Upsert(ctx context.Context, m *domain.Member) (*domain.Member, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO members (id, upstream_user_id, display_name, avatar_url, locale, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $6)
		ON CONFLICT (upstream_user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			avatar_url = COALESCE(EXCLUDED.avatar_url, members.avatar_url),
			locale = COALESCE(EXCLUDED.locale, members.locale),
			updated_at = EXCLUDED.updated_at
		RETURNING `+memberColumns,
		m.ID, m.UpstreamUserID, m.DisplayName, m.AvatarURL, m.Locale, m.UpdatedAt)
	return scanMember(row)
}

func scanMember(row *sql.Row) (*domain.Member, error) {
	var m domain.Member
	err := row.Scan(&m.ID, &m.UpstreamUserID, &m.DisplayName, &m.AvatarURL, &m.Locale, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"

	"membercard-engine/internal/issuer/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an issuer repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const issuerColumns = `id, upstream_channel_id, channel_name, COALESCE(channel_handle, ''),
	verification_target_id, proof_method, default_label, COALESCE(wallet_credential_type_id, ''),
	is_active, created_at`

// GetByID returns the issuer for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.CardIssuer, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+issuerColumns+` FROM card_issuers WHERE id = $1`, id)
	iss, err := scanIssuer(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return iss, nil
}

// ListActive returns all issuers currently accepting claims.
func (r *PostgresRepository) ListActive(ctx context.Context) ([]*domain.CardIssuer, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+issuerColumns+` FROM card_issuers WHERE is_active ORDER BY channel_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.CardIssuer
	for rows.Next() {
		iss, err := scanIssuer(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, iss)
	}
	return out, rows.Err()
}

// Create inserts an issuer row. Used by cmd/seed; the engine itself never
// writes issuer configuration.
func (r *PostgresRepository) Create(ctx context.Context, iss *domain.CardIssuer) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO card_issuers (id, upstream_channel_id, channel_name, channel_handle,
			verification_target_id, proof_method, default_label, wallet_credential_type_id,
			is_active, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), $9, $10)`,
		iss.ID, iss.UpstreamChannelID, iss.ChannelName, iss.ChannelHandle,
		iss.VerificationTargetID, string(iss.ProofMethod), iss.DefaultLabel,
		iss.WalletCredentialTypeID, iss.IsActive, iss.CreatedAt)
	return err
}

func scanIssuer(scan func(...any) error) (*domain.CardIssuer, error) {
	var iss domain.CardIssuer
	var method string
	err := scan(&iss.ID, &iss.UpstreamChannelID, &iss.ChannelName, &iss.ChannelHandle,
		&iss.VerificationTargetID, &method, &iss.DefaultLabel, &iss.WalletCredentialTypeID,
		&iss.IsActive, &iss.CreatedAt)
	if err != nil {
		return nil, err
	}
	iss.ProofMethod = domain.ProofMethod(method)
	return &iss, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"

	"membercard-engine/internal/policy/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an issuance policy repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the policy, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.IssuancePolicy, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, issuer_id, rules, enabled, created_at
		FROM issuance_policies
		WHERE id = $1`, id)
	var p domain.IssuancePolicy
	err := row.Scan(&p.ID, &p.IssuerID, &p.Rules, &p.Enabled, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// ListEnabledByIssuer returns the issuer's enabled policies, oldest first.
func (r *PostgresRepository) ListEnabledByIssuer(ctx context.Context, issuerID string) ([]*domain.IssuancePolicy, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, issuer_id, rules, enabled, created_at
		FROM issuance_policies
		WHERE issuer_id = $1 AND enabled
		ORDER BY created_at ASC`, issuerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*domain.IssuancePolicy
	for rows.Next() {
		var p domain.IssuancePolicy
		if err := rows.Scan(&p.ID, &p.IssuerID, &p.Rules, &p.Enabled, &p.CreatedAt); err != nil {
			return nil, err
		}
		policies = append(policies, &p)
	}
	return policies, rows.Err()
}

// Create persists the policy.
func (r *PostgresRepository) Create(ctx context.Context, p *domain.IssuancePolicy) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO issuance_policies (id, issuer_id, rules, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.IssuerID, p.Rules, p.Enabled, p.CreatedAt)
	return err
}

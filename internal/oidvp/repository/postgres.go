package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"membercard-engine/internal/oidvp/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a presentation session repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, transaction_id, qr_image, auth_uri, status, verify_result,
	result_description, result_data, created_at, completed_at, expires_at`

// GetByID returns the session, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.VerificationSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM verification_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetByTransactionID returns the session for the verifier transaction, or nil if not found.
func (r *PostgresRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.VerificationSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM verification_sessions WHERE transaction_id = $1`, transactionID)
	return scanSession(row)
}

// Create persists the session.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.VerificationSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verification_sessions
			(id, transaction_id, qr_image, auth_uri, status, verify_result,
			 result_description, result_data, created_at, completed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.TransactionID, s.QRImage, s.AuthURI, string(s.Status), s.VerifyResult,
		nullString(s.ResultDescription), jsonOrNull(s.ResultData), s.CreatedAt, s.CompletedAt, s.ExpiresAt)
	return err
}

// Complete transitions a pending session to a terminal status. The WHERE clause
// on status makes the transition race-safe: the first writer wins.
func (r *PostgresRepository) Complete(ctx context.Context, sessionID string, status domain.Status, verifyResult *bool, description string, resultData []byte, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE verification_sessions
		SET status = $2, verify_result = $3, result_description = $4,
		    result_data = $5, completed_at = $6
		WHERE id = $1 AND status = 'pending'`,
		sessionID, string(status), verifyResult, nullString(description), jsonOrNull(resultData), at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanSession(row *sql.Row) (*domain.VerificationSession, error) {
	var s domain.VerificationSession
	var status string
	var description sql.NullString
	err := row.Scan(&s.ID, &s.TransactionID, &s.QRImage, &s.AuthURI, &status, &s.VerifyResult,
		&description, &s.ResultData, &s.CreatedAt, &s.CompletedAt, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.Status = domain.Status(status)
	s.ResultDescription = description.String
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func jsonOrNull(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

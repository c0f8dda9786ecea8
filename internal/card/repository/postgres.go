package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"membercard-engine/internal/card/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a card repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const cardColumns = `id, issuer_id, member_id, level_label, confirmed_at, proof_reference,
	snapshot, qr_signature, status, expires_at, last_verified_at, verification_failures, issued_at,
	COALESCE(wallet_transaction_id, ''), COALESCE(wallet_qr, ''), COALESCE(wallet_deep_link, ''),
	COALESCE(wallet_credential_id, ''), wallet_scanned_at`

// GetByID returns the card for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.MembershipCard, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM membership_cards WHERE id = $1`, id)
	c, err := scanCard(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// FindActiveUnexpired returns the active, unexpired card for the pair, or nil.
func (r *PostgresRepository) FindActiveUnexpired(ctx context.Context, issuerID, memberID string) (*domain.MembershipCard, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+cardColumns+` FROM membership_cards
		WHERE issuer_id = $1 AND member_id = $2 AND status = 'active'
		  AND (expires_at IS NULL OR expires_at > now())`,
		issuerID, memberID)
	c, err := scanCard(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// Create marks every active card for the (issuer, member) pair superseded and
// inserts the new card as active, in one transaction. The partial unique index
// on active cards makes the invariant hold even under concurrent creates: one
// of two racing transactions fails its insert and rolls back.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.MembershipCard) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE membership_cards SET status = 'superseded'
		WHERE issuer_id = $1 AND member_id = $2 AND status = 'active'`,
		c.IssuerID, c.MemberID); err != nil {
		return fmt.Errorf("supersede existing cards: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO membership_cards (
			id, issuer_id, member_id, level_label, confirmed_at, proof_reference,
			snapshot, qr_signature, status, expires_at, verification_failures, issued_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.IssuerID, c.MemberID, c.LevelLabel, c.ConfirmedAt, c.ProofReference,
		jsonOrEmpty(c.Snapshot), c.QRSignature, string(c.Status), c.ExpiresAt,
		c.VerificationFailures, c.IssuedAt); err != nil {
		return fmt.Errorf("insert card: %w", err)
	}

	return tx.Commit()
}

// Extend sets expires_at = now + days, stamps last_verified_at, and resets the
// failure count.
func (r *PostgresRepository) Extend(ctx context.Context, cardID string, days int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE membership_cards
		SET expires_at = now() + make_interval(days => $2),
		    last_verified_at = now(),
		    verification_failures = 0
		WHERE id = $1`, cardID, days)
	return err
}

// Fail increments the failure count, stamps last_verified_at, and returns the new count.
func (r *PostgresRepository) Fail(ctx context.Context, cardID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE membership_cards
		SET verification_failures = verification_failures + 1,
		    last_verified_at = now()
		WHERE id = $1
		RETURNING verification_failures`, cardID).Scan(&count)
	return count, err
}

// SetStatus forces the card into the given status.
func (r *PostgresRepository) SetStatus(ctx context.Context, cardID string, status domain.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid card status %q", status)
	}
	_, err := r.db.ExecContext(ctx, `UPDATE membership_cards SET status = $2 WHERE id = $1`,
		cardID, string(status))
	return err
}

// AttachWalletIssuance records the minted wallet QR/transaction on the card.
func (r *PostgresRepository) AttachWalletIssuance(ctx context.Context, cardID, transactionID, qrCode, deepLink string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE membership_cards
		SET wallet_transaction_id = $2, wallet_qr = $3, wallet_deep_link = NULLIF($4, '')
		WHERE id = $1`, cardID, transactionID, qrCode, deepLink)
	return err
}

// MarkScanned records the credential id and scan time if the card has not been
// marked before. Returns false when another poll already claimed it.
func (r *PostgresRepository) MarkScanned(ctx context.Context, cardID, credentialID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE membership_cards
		SET wallet_credential_id = $2, wallet_scanned_at = $3
		WHERE id = $1 AND wallet_scanned_at IS NULL`, cardID, credentialID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FindNeedingVerification returns up to limit active cards whose last
// verification is absent or older than cutoff, oldest-first.
func (r *PostgresRepository) FindNeedingVerification(ctx context.Context, cutoff time.Time, limit int) ([]*domain.MembershipCard, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+cardColumns+` FROM membership_cards
		WHERE status = 'active'
		  AND (last_verified_at IS NULL OR last_verified_at < $1)
		ORDER BY last_verified_at ASC NULLS FIRST
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.MembershipCard
	for rows.Next() {
		c, err := scanCard(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCard(scan func(...any) error) (*domain.MembershipCard, error) {
	var c domain.MembershipCard
	var status string
	err := scan(&c.ID, &c.IssuerID, &c.MemberID, &c.LevelLabel, &c.ConfirmedAt, &c.ProofReference,
		&c.Snapshot, &c.QRSignature, &status, &c.ExpiresAt, &c.LastVerifiedAt,
		&c.VerificationFailures, &c.IssuedAt,
		&c.WalletTransactionID, &c.WalletQR, &c.WalletDeepLink,
		&c.WalletCredentialID, &c.WalletScannedAt)
	if err != nil {
		return nil, err
	}
	c.Status = domain.Status(status)
	return &c, nil
}

func jsonOrEmpty(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}

package repository

import (
	"context"
	"database/sql"

	"membercard-engine/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a verification event repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append writes the event. The log is append-only; there is no update path.
func (r *PostgresRepository) Append(ctx context.Context, e *domain.VerificationEvent) error {
	var cardID interface{}
	if e.CardID != "" {
		cardID = e.CardID
	}
	var rawPayload interface{}
	if e.RawPayload != "" {
		rawPayload = e.RawPayload
	}
	contextJSON := e.Context
	if len(contextJSON) == 0 {
		contextJSON = []byte("{}")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verification_events (id, event_ref, card_id, result, context, raw_payload, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.EventRef, cardID, e.Result, contextJSON, rawPayload, e.VerifiedAt)
	return err
}

// ListByCard returns the card's events, newest first.
func (r *PostgresRepository) ListByCard(ctx context.Context, cardID string, limit int) ([]*domain.VerificationEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_ref, card_id, result, context, raw_payload, verified_at
		FROM verification_events
		WHERE card_id = $1
		ORDER BY verified_at DESC
		LIMIT $2`, cardID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.VerificationEvent
	for rows.Next() {
		var e domain.VerificationEvent
		var cardID, rawPayload sql.NullString
		if err := rows.Scan(&e.ID, &e.EventRef, &cardID, &e.Result, &e.Context, &rawPayload, &e.VerifiedAt); err != nil {
			return nil, err
		}
		e.CardID = cardID.String
		e.RawPayload = rawPayload.String
		events = append(events, &e)
	}
	return events, rows.Err()
}

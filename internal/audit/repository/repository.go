package repository

import (
	"context"

	"membercard-engine/internal/audit/domain"
)

// Repository defines persistence for the append-only verification event log.
type Repository interface {
	Append(ctx context.Context, e *domain.VerificationEvent) error
	// ListByCard returns the card's events, newest first, up to limit.
	ListByCard(ctx context.Context, cardID string, limit int) ([]*domain.VerificationEvent, error)
}

package repository

import (
	"context"

	"membercard-engine/internal/issuer/domain"
)

// Repository defines read access to card issuer configuration.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.CardIssuer, error)
	ListActive(ctx context.Context) ([]*domain.CardIssuer, error)
}

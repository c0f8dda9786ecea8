package repository

import (
	"context"

	"membercard-engine/internal/policy/domain"
)

// Repository defines persistence for issuance policies.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.IssuancePolicy, error)
	// ListEnabledByIssuer returns the issuer's enabled policies, oldest first.
	ListEnabledByIssuer(ctx context.Context, issuerID string) ([]*domain.IssuancePolicy, error)
	Create(ctx context.Context, p *domain.IssuancePolicy) error
}

package repository

import (
	"context"

	"membercard-engine/internal/member/domain"
)

// Repository defines persistence for members.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Member, error)
	GetByUpstreamUserID(ctx context.Context, upstreamUserID string) (*domain.Member, error)
	// Upsert inserts the member or, if the upstream user id is already known,
	// refreshes display name/avatar/locale. Returns the stored member.
	Upsert(ctx context.Context, m *domain.Member) (*domain.Member, error)
}

package repository

import (
	"context"
	"time"

	"membercard-engine/internal/oidvp/domain"
)

// Repository defines persistence for presentation sessions.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.VerificationSession, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.VerificationSession, error)
	Create(ctx context.Context, s *domain.VerificationSession) error
	// Complete transitions a pending session to the given terminal status.
	// Returns false when the session had already left pending, so a result
	// is recorded at most once.
	Complete(ctx context.Context, sessionID string, status domain.Status, verifyResult *bool, description string, resultData []byte, at time.Time) (bool, error)
}

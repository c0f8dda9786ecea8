package repository

import (
	"context"
	"time"

	"membercard-engine/internal/card/domain"
)

// Repository is the authoritative state machine for membership cards. Every
// write to a card row goes through one of these methods, each independently
// transactional.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.MembershipCard, error)
	// FindActiveUnexpired returns the single active, unexpired card for the
	// (issuer, member) pair, or nil. Advisory read; Create re-validates inside
	// its transaction.
	FindActiveUnexpired(ctx context.Context, issuerID, memberID string) (*domain.MembershipCard, error)
	// Create supersedes every active card for the pair and inserts the new
	// card as active, all in one transaction.
	Create(ctx context.Context, c *domain.MembershipCard) error
	// Extend pushes expires_at to now+days, stamps last_verified_at, and
	// resets verification_failures. Called only after a successful re-verification.
	Extend(ctx context.Context, cardID string, days int) error
	// Fail increments verification_failures, stamps last_verified_at, and
	// returns the new count. The caller decides escalation.
	Fail(ctx context.Context, cardID string) (int, error)
	// SetStatus forces an explicit transition (expired/revoked/suspended).
	SetStatus(ctx context.Context, cardID string, status domain.Status) error
	// AttachWalletIssuance records the minted wallet QR on the card.
	AttachWalletIssuance(ctx context.Context, cardID, transactionID, qrCode, deepLink string) error
	// MarkScanned records the claimed credential id and scan time once.
	// Returns false when the card was already marked scanned.
	MarkScanned(ctx context.Context, cardID, credentialID string, at time.Time) (bool, error)
	// FindNeedingVerification returns up to limit active cards not verified
	// since cutoff, oldest-first (never-verified cards first).
	FindNeedingVerification(ctx context.Context, cutoff time.Time, limit int) ([]*domain.MembershipCard, error)
}

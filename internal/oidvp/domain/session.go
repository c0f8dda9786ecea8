package domain

import "time"

// Status is the lifecycle state of a presentation session. A session leaves
// pending exactly once.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
)

// SessionTTL is how long a presentation QR stays claimable after creation.
const SessionTTL = 5 * time.Minute

// VerificationSession is one wallet presentation transaction: a QR is shown,
// the holder presents their credential, and the verifier posts back a result.
type VerificationSession struct {
	ID                string
	TransactionID     string
	QRImage           string
	AuthURI           string
	Status            Status
	VerifyResult      *bool
	ResultDescription string
	ResultData        []byte // JSON claim data extracted from the presentation
	CreatedAt         time.Time
	CompletedAt       *time.Time
	ExpiresAt         time.Time
}

// Expired reports whether the session's TTL has elapsed.
func (s *VerificationSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Terminal reports whether the session has left pending.
func (s *VerificationSession) Terminal() bool {
	return s.Status != StatusPending
}

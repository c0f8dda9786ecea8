package domain

import "time"

// VerificationEvent is one append-only audit record of a verification or
// scan outcome. Events are written once and never mutated.
type VerificationEvent struct {
	ID         string
	EventRef   string
	CardID     string // empty when the lookup failed before a card was involved
	Result     string
	Context    []byte // structured JSON
	RawPayload string
	VerifiedAt time.Time
}

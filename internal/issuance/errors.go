package issuance

import (
	"errors"
	"fmt"
	"time"

	"membercard-engine/internal/proof"
)

var (
	// ErrIssuerNotFound covers both unknown and deactivated issuers.
	ErrIssuerNotFound = errors.New("card issuer not found or inactive")
	// ErrCardNotFound is returned by PollWalletClaim for an unknown card.
	ErrCardNotFound = errors.New("membership card not found")
	// ErrNoWalletIssuance means the card has no minted wallet QR to poll.
	ErrNoWalletIssuance = errors.New("card has no wallet issuance")
)

// ProofFailedError is a terminal negative from the proof check. It carries
// the specific reason so the user can self-correct (wrong video vs.
// ownership mismatch), never a generic denial.
type ProofFailedError struct {
	Reason proof.Reason
}

func (e *ProofFailedError) Error() string {
	return fmt.Sprintf("membership proof failed: %s", e.Reason)
}

// ProofIndeterminateError means the check reached no verdict; the caller may
// retry after addressing the cause (re-authenticate on token_expired).
type ProofIndeterminateError struct {
	Cause proof.Cause
}

func (e *ProofIndeterminateError) Error() string {
	return fmt.Sprintf("membership proof indeterminate: %s", e.Cause)
}

// PolicyRejectedError means the issuer's issuance policy rejected otherwise
// valid proof evidence (e.g. the comment is older than the age gate allows).
type PolicyRejectedError struct {
	Reason string
}

func (e *PolicyRejectedError) Error() string {
	return fmt.Sprintf("issuance policy rejected proof: %s", e.Reason)
}

// DuplicateCardError rejects issuance when an active, unexpired card already
// exists for the (issuer, member) pair. ExpiresAt is surfaced so the user can
// be told when they may re-apply.
type DuplicateCardError struct {
	ExistingCardID string
	ExpiresAt      *time.Time
}

func (e *DuplicateCardError) Error() string {
	if e.ExpiresAt != nil {
		return fmt.Sprintf("an active card already exists (expires %s)", e.ExpiresAt.Format(time.RFC3339))
	}
	return "an active card already exists"
}

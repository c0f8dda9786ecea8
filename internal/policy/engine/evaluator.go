package engine

import (
	"context"
	"time"

	issuerdomain "membercard-engine/internal/issuer/domain"
	"membercard-engine/internal/proof"
)

// IssuanceResult holds the result of issuance policy evaluation.
type IssuanceResult struct {
	// ProofAccepted is false when the policy rejects otherwise-valid proof
	// evidence, e.g. a comment older than the configured age gate.
	ProofAccepted bool
	// RejectReason explains a policy rejection to the caller.
	RejectReason string
	// ExtensionDays is the card validity granted per successful verification.
	ExtensionDays int
	// FailureThreshold is how many consecutive failed re-verifications expire a card.
	FailureThreshold int
}

// Evaluator evaluates issuance policies using OPA or other engines.
type Evaluator interface {
	// EvaluateIssuance evaluates the issuer's policy against proof evidence
	// and returns the issuance parameters to apply.
	EvaluateIssuance(ctx context.Context, issuer *issuerdomain.CardIssuer, evidence *proof.Evidence, now time.Time) (IssuanceResult, error)
}

// Package verifier checks scanned card-backed QR payloads against the card
// store. This is the legacy (pre-wallet) verification path: the QR carries a
// signed JSON payload naming the card, and the verdict is the card's current
// lifecycle state.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	carddomain "membercard-engine/internal/card/domain"
	cardrepo "membercard-engine/internal/card/repository"
	issuerdomain "membercard-engine/internal/issuer/domain"
	issuerrepo "membercard-engine/internal/issuer/repository"
	"membercard-engine/internal/security"
)

// Verdict names the outcome class of a QR verification.
type Verdict string

const (
	VerdictSuccess        Verdict = "success"
	VerdictCardNotFound   Verdict = "card_not_found"
	VerdictCardExpired    Verdict = "card_expired"
	VerdictCardRevoked    Verdict = "card_revoked"
	VerdictCardSuspended  Verdict = "card_suspended"
	VerdictInvalidPayload Verdict = "invalid_payload"
)

// Result is the outcome of verifying one QR payload. Card and Issuer are set
// for every verdict that resolved a card; Detail explains invalid payloads.
type Result struct {
	Verdict Verdict
	CardID  string
	Card    *carddomain.MembershipCard
	Issuer  *issuerdomain.CardIssuer
	Detail  string
}

type qrPayload struct {
	CardID string `json:"card_id"`
}

// Verifier resolves QR payloads to verdicts.
type Verifier struct {
	cards   cardrepo.Repository
	issuers issuerrepo.Repository
	signer  *security.Signer
	now     func() time.Time
}

// New returns a Verifier. signer may be nil for unsigned legacy payloads.
func New(cards cardrepo.Repository, issuers issuerrepo.Repository, signer *security.Signer) *Verifier {
	return &Verifier{cards: cards, issuers: issuers, signer: signer, now: time.Now}
}

// Verify parses and checks one QR payload. Signature is checked first when a
// signer is configured; a bad signature is an invalid payload, not an error.
// Errors are returned only for database failures.
func (v *Verifier) Verify(ctx context.Context, payload, signature string) (*Result, error) {
	if v.signer != nil {
		if signature == "" || !v.signer.Verify([]byte(payload), signature) {
			return &Result{Verdict: VerdictInvalidPayload, Detail: "signature mismatch"}, nil
		}
	}

	var p qrPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil || p.CardID == "" {
		return &Result{Verdict: VerdictInvalidPayload, Detail: "malformed payload"}, nil
	}

	card, err := v.cards.GetByID(ctx, p.CardID)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return &Result{Verdict: VerdictCardNotFound, CardID: p.CardID}, nil
	}

	issuer, err := v.issuers.GetByID(ctx, card.IssuerID)
	if err != nil {
		return nil, err
	}
	if issuer == nil {
		return nil, fmt.Errorf("issuer %s not found for card %s", card.IssuerID, card.ID)
	}

	res := &Result{CardID: card.ID, Card: card, Issuer: issuer}
	switch card.Status {
	case carddomain.StatusActive:
		if card.ExpiresAt != nil && !card.ExpiresAt.After(v.now()) {
			res.Verdict = VerdictCardExpired
		} else {
			res.Verdict = VerdictSuccess
		}
	case carddomain.StatusExpired, carddomain.StatusSuperseded:
		res.Verdict = VerdictCardExpired
	case carddomain.StatusRevoked:
		res.Verdict = VerdictCardRevoked
	case carddomain.StatusSuspended:
		res.Verdict = VerdictCardSuspended
	default:
		res.Verdict = VerdictInvalidPayload
		res.Detail = fmt.Sprintf("unknown card status %q", card.Status)
	}
	return res, nil
}

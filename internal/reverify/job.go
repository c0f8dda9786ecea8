// Package reverify implements the batch sweep that re-checks membership for
// already-issued active cards and drives their lifecycle transitions.
package reverify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	carddomain "membercard-engine/internal/card/domain"
	cardrepo "membercard-engine/internal/card/repository"
	issuerdomain "membercard-engine/internal/issuer/domain"
	issuerrepo "membercard-engine/internal/issuer/repository"
	memberdomain "membercard-engine/internal/member/domain"
	"membercard-engine/internal/policy/engine"
	"membercard-engine/internal/proof"
)

// Stats summarizes one sweep. Per-card failures are counted here and logged;
// they never abort the batch.
type Stats struct {
	Checked              int
	StillMembers         int
	Expired              int
	TokenRefreshFailures int
	APIErrors            int
}

// TokenSource hands out and force-refreshes member access tokens.
type TokenSource interface {
	ValidAccessToken(ctx context.Context, memberID string) (string, error)
	ForceRefresh(ctx context.Context, memberID string) (string, error)
}

// AuditRecorder appends verification events best-effort.
type AuditRecorder interface {
	Record(ctx context.Context, eventRef, cardID, result string, contextJSON []byte, rawPayload string)
}

// MemberLookup resolves card owners to their upstream platform identity.
type MemberLookup interface {
	GetByID(ctx context.Context, id string) (*memberdomain.Member, error)
}

// Job re-verifies stale active cards in batches.
type Job struct {
	cards     cardrepo.Repository
	issuers   issuerrepo.Repository
	members   MemberLookup
	tokens    TokenSource
	checker   proof.Checker
	policy    engine.Evaluator
	audit     AuditRecorder
	batchSize int
	now       func() time.Time
}

// NewJob wires the sweep. batchSize caps how many cards one run touches.
func NewJob(
	cards cardrepo.Repository,
	issuers issuerrepo.Repository,
	members MemberLookup,
	tokens TokenSource,
	checker proof.Checker,
	policy engine.Evaluator,
	audit AuditRecorder,
	batchSize int,
) *Job {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Job{
		cards:     cards,
		issuers:   issuers,
		members:   members,
		tokens:    tokens,
		checker:   checker,
		policy:    policy,
		audit:     audit,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run sweeps one batch of cards whose last verification is older than the
// re-verification interval, oldest first. Every card is independent: an error
// on one is logged, counted, and the sweep moves on.
func (j *Job) Run(ctx context.Context) (*Stats, error) {
	cutoff := j.now().Add(-carddomain.ReverifyInterval)
	cards, err := j.cards.FindNeedingVerification(ctx, cutoff, j.batchSize)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Checked++
		j.verifyCard(ctx, card, stats)
	}
	return stats, nil
}

func (j *Job) verifyCard(ctx context.Context, card *carddomain.MembershipCard, stats *Stats) {
	issuer, err := j.issuers.GetByID(ctx, card.IssuerID)
	if err != nil || issuer == nil {
		log.Printf("reverify: card %s: load issuer %s: %v", card.ID, card.IssuerID, err)
		stats.APIErrors++
		return
	}

	upstreamID, err := j.memberUpstreamID(ctx, card)
	if err != nil {
		log.Printf("reverify: card %s: load member %s: %v", card.ID, card.MemberID, err)
		stats.APIErrors++
		return
	}

	token, err := j.tokens.ValidAccessToken(ctx, card.MemberID)
	if err != nil {
		log.Printf("reverify: card %s: token: %v", card.ID, err)
		stats.TokenRefreshFailures++
		return
	}

	outcome, err := j.checker.Check(ctx, token, issuer, upstreamID, card.ProofReference)
	if outcome.Kind == proof.KindIndeterminate && outcome.Cause == proof.CauseTokenExpired {
		// The clock said the token was fine but the upstream disagreed.
		// Force a refresh and retry the check once.
		token, refreshErr := j.tokens.ForceRefresh(ctx, card.MemberID)
		if refreshErr != nil {
			log.Printf("reverify: card %s: forced refresh: %v", card.ID, refreshErr)
			stats.TokenRefreshFailures++
			return
		}
		outcome, err = j.checker.Check(ctx, token, issuer, upstreamID, card.ProofReference)
	}

	switch outcome.Kind {
	case proof.KindConfirmed:
		j.extend(ctx, card, issuer, outcome.Evidence, stats)
	case proof.KindNotAMember:
		j.fail(ctx, card, issuer, outcome.Reason, stats)
	case proof.KindIndeterminate:
		log.Printf("reverify: card %s: indeterminate (%s): %v", card.ID, outcome.Cause, err)
		if outcome.Cause == proof.CauseTokenExpired {
			stats.TokenRefreshFailures++
		} else {
			stats.APIErrors++
		}
	default:
		log.Printf("reverify: card %s: check: %v", card.ID, err)
		stats.APIErrors++
	}
}

func (j *Job) extend(ctx context.Context, card *carddomain.MembershipCard, issuer *issuerdomain.CardIssuer, evidence *proof.Evidence, stats *Stats) {
	days := carddomain.ExtensionDays
	if result, err := j.policy.EvaluateIssuance(ctx, issuer, evidence, j.now()); err == nil && result.ExtensionDays > 0 {
		days = result.ExtensionDays
	}
	if err := j.cards.Extend(ctx, card.ID, days); err != nil {
		log.Printf("reverify: card %s: extend: %v", card.ID, err)
		stats.APIErrors++
		return
	}
	stats.StillMembers++
	j.record(ctx, card, "still_member", map[string]string{"extension_days": strconv.Itoa(days)})
}

func (j *Job) fail(ctx context.Context, card *carddomain.MembershipCard, issuer *issuerdomain.CardIssuer, reason proof.Reason, stats *Stats) {
	failures, err := j.cards.Fail(ctx, card.ID)
	if err != nil {
		log.Printf("reverify: card %s: record failure: %v", card.ID, err)
		stats.APIErrors++
		return
	}

	threshold := carddomain.FailureThreshold
	if result, perr := j.policy.EvaluateIssuance(ctx, issuer, nil, j.now()); perr == nil && result.FailureThreshold > 0 {
		threshold = result.FailureThreshold
	}

	if failures >= threshold {
		if err := j.cards.SetStatus(ctx, card.ID, carddomain.StatusExpired); err != nil {
			log.Printf("reverify: card %s: expire: %v", card.ID, err)
			stats.APIErrors++
			return
		}
		stats.Expired++
		j.record(ctx, card, "expired", map[string]string{
			"reason":   string(reason),
			"failures": strconv.Itoa(failures),
		})
		return
	}
	j.record(ctx, card, "verification_failed", map[string]string{
		"reason":   string(reason),
		"failures": strconv.Itoa(failures),
	})
}

// memberUpstreamID resolves the card owner's upstream platform id for the
// ownership check in comment proofs. A lookup failure must not count against
// the member, so it is surfaced to the caller instead of returned as "".
func (j *Job) memberUpstreamID(ctx context.Context, card *carddomain.MembershipCard) (string, error) {
	if j.members == nil {
		return "", nil
	}
	m, err := j.members.GetByID(ctx, card.MemberID)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", fmt.Errorf("member %s not found", card.MemberID)
	}
	return m.UpstreamUserID, nil
}

func (j *Job) record(ctx context.Context, card *carddomain.MembershipCard, result string, fields map[string]string) {
	if j.audit == nil {
		return
	}
	contextJSON, _ := json.Marshal(fields)
	j.audit.Record(ctx, card.ProofReference, card.ID, result, contextJSON, "")
}


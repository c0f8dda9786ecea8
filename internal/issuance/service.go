// Package issuance coordinates token vault, proof check, policy, dedupe,
// wallet hand-off, and card persistence into the user-facing issue operation.
package issuance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	carddomain "membercard-engine/internal/card/domain"
	cardrepo "membercard-engine/internal/card/repository"
	issuerdomain "membercard-engine/internal/issuer/domain"
	issuerrepo "membercard-engine/internal/issuer/repository"
	memberdomain "membercard-engine/internal/member/domain"
	memberrepo "membercard-engine/internal/member/repository"
	"membercard-engine/internal/policy/engine"
	"membercard-engine/internal/proof"
	"membercard-engine/internal/security"
	"membercard-engine/internal/wallet"
)

// slowIssuanceThreshold triggers a warning log when the end-to-end issue
// operation exceeds it. Observability only; nothing is aborted.
const slowIssuanceThreshold = 5 * time.Second

// WalletBridge is the part of the wallet client the orchestrator needs.
type WalletBridge interface {
	Health(ctx context.Context) error
	IssueQR(ctx context.Context, credentialTypeID string, fields []wallet.Field) (*wallet.QRIssuance, error)
	PollCredential(ctx context.Context, transactionID string) (*wallet.CredentialResult, error)
}

// AuditRecorder appends verification events best-effort.
type AuditRecorder interface {
	Record(ctx context.Context, eventRef, cardID, result string, contextJSON []byte, rawPayload string)
}

// IssueRequest is one card claim attempt.
type IssueRequest struct {
	IssuerID string
	// MemberID is the internal member id when the member is already known;
	// empty on first-time claims.
	MemberID string
	// UpstreamUserID is the authenticated platform identity of the claimant.
	UpstreamUserID string
	// DisplayName and AvatarURL come from the platform session.
	DisplayName string
	AvatarURL   string
	Locale      string
	// AccessToken is the claimant's upstream access token for the proof call.
	AccessToken string
	// ProofReference is the user-submitted comment link/id; unused for
	// video-access issuers.
	ProofReference string
}

// Service orchestrates card issuance and the wallet claim poll.
type Service struct {
	cards   cardrepo.Repository
	members memberrepo.Repository
	issuers issuerrepo.Repository
	checker proof.Checker
	policy  engine.Evaluator
	bridge  WalletBridge
	signer  *security.Signer
	audit   AuditRecorder
	now     func() time.Time
}

// NewService wires the orchestrator. bridge may be nil when no wallet backend
// is configured; cards are then issued without wallet fields.
func NewService(
	cards cardrepo.Repository,
	members memberrepo.Repository,
	issuers issuerrepo.Repository,
	checker proof.Checker,
	policy engine.Evaluator,
	bridge WalletBridge,
	signer *security.Signer,
	audit AuditRecorder,
) *Service {
	return &Service{
		cards:   cards,
		members: members,
		issuers: issuers,
		checker: checker,
		policy:  policy,
		bridge:  bridge,
		signer:  signer,
		audit:   audit,
		now:     time.Now,
	}
}

// IssueCard runs the claim pipeline. The step order is load-bearing: the
// wallet health probe comes before any proof work so an unredeemable claim
// never spends an upstream API call, and the duplicate check comes after the
// member upsert so it can use the authoritative member id.
func (s *Service) IssueCard(ctx context.Context, req *IssueRequest) (*carddomain.MembershipCard, error) {
	started := s.now()
	defer func() {
		if elapsed := s.now().Sub(started); elapsed > slowIssuanceThreshold {
			log.Printf("issuance: slow issue for issuer %s: %v", req.IssuerID, elapsed)
		}
	}()

	if s.bridge != nil {
		if err := s.bridge.Health(ctx); err != nil {
			return nil, err
		}
	}

	issuer, err := s.issuers.GetByID(ctx, req.IssuerID)
	if err != nil {
		return nil, fmt.Errorf("load issuer: %w", err)
	}
	if issuer == nil || !issuer.IsActive {
		return nil, ErrIssuerNotFound
	}

	outcome, err := s.checker.Check(ctx, req.AccessToken, issuer, req.UpstreamUserID, req.ProofReference)
	if err != nil && outcome.Kind != proof.KindIndeterminate {
		return nil, fmt.Errorf("proof check: %w", err)
	}
	switch outcome.Kind {
	case proof.KindConfirmed:
	case proof.KindNotAMember:
		s.recordOutcome(ctx, req, "", "proof_"+string(outcome.Reason))
		return nil, &ProofFailedError{Reason: outcome.Reason}
	case proof.KindIndeterminate:
		return nil, &ProofIndeterminateError{Cause: outcome.Cause}
	default:
		return nil, fmt.Errorf("proof check returned unknown outcome %q", outcome.Kind)
	}
	evidence := outcome.Evidence

	policyResult, err := s.policy.EvaluateIssuance(ctx, issuer, evidence, s.now())
	if err != nil {
		return nil, fmt.Errorf("evaluate issuance policy: %w", err)
	}
	if !policyResult.ProofAccepted {
		s.recordOutcome(ctx, req, "", "policy_rejected")
		return nil, &PolicyRejectedError{Reason: policyResult.RejectReason}
	}

	displayName := req.DisplayName
	if evidence.AuthorDisplayName != "" {
		displayName = evidence.AuthorDisplayName
	}
	now := s.now()
	// The repository keys the upsert on upstream_user_id; the fresh id and
	// created_at only land when this is a first-time claim.
	member, err := s.members.Upsert(ctx, &memberdomain.Member{
		ID:             uuid.NewString(),
		UpstreamUserID: req.UpstreamUserID,
		DisplayName:    displayName,
		AvatarURL:      req.AvatarURL,
		Locale:         req.Locale,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert member: %w", err)
	}

	existing, err := s.cards.FindActiveUnexpired(ctx, issuer.ID, member.ID)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if existing != nil && existing.ActiveUnexpired(s.now()) {
		return nil, &DuplicateCardError{ExistingCardID: existing.ID, ExpiresAt: existing.ExpiresAt}
	}

	expiresAt := now.Add(time.Duration(policyResult.ExtensionDays) * 24 * time.Hour)
	card := &carddomain.MembershipCard{
		ID:             uuid.NewString(),
		IssuerID:       issuer.ID,
		MemberID:       member.ID,
		LevelLabel:     issuer.DefaultLabel,
		ConfirmedAt:    evidence.ConfirmedAt,
		ProofReference: evidence.Reference,
		Status:         carddomain.StatusActive,
		ExpiresAt:      &expiresAt,
		IssuedAt:       now,
	}
	if card.ConfirmedAt.IsZero() {
		card.ConfirmedAt = now
	}

	snapshot, err := json.Marshal(map[string]interface{}{
		"proof_reference":     evidence.Reference,
		"proof_confirmed_at":  card.ConfirmedAt.UTC().Format(time.RFC3339),
		"author_display_name": evidence.AuthorDisplayName,
		"proof_text":          evidence.Text,
		"issued_at":           now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("build audit snapshot: %w", err)
	}
	card.Snapshot = snapshot
	if s.signer != nil {
		payload, err := json.Marshal(map[string]string{"card_id": card.ID})
		if err != nil {
			return nil, fmt.Errorf("build qr payload: %w", err)
		}
		card.QRSignature = s.signer.Sign(payload)
	}

	var issuanceQR *wallet.QRIssuance
	if s.bridge != nil {
		issuanceQR, err = s.bridge.IssueQR(ctx, walletCredentialType(issuer), []wallet.Field{
			{EName: "name", Content: wallet.SanitizeDisplayName(member.DisplayName)},
			{EName: "level", Content: card.LevelLabel},
			{EName: "channel", Content: issuer.ChannelName},
		})
		if err != nil {
			return nil, fmt.Errorf("mint wallet qr: %w", err)
		}
	}

	if err := s.cards.Create(ctx, card); err != nil {
		return nil, fmt.Errorf("create card: %w", err)
	}
	if issuanceQR != nil {
		if err := s.cards.AttachWalletIssuance(ctx, card.ID, issuanceQR.TransactionID, issuanceQR.QRCode, issuanceQR.DeepLink); err != nil {
			return nil, fmt.Errorf("attach wallet issuance: %w", err)
		}
		card.WalletTransactionID = issuanceQR.TransactionID
		card.WalletQR = issuanceQR.QRCode
		card.WalletDeepLink = issuanceQR.DeepLink
	}

	s.recordOutcome(ctx, req, card.ID, "issued")
	return card, nil
}

// PollWalletClaim checks whether the card's wallet QR has been scanned and,
// the first time it has, records the claimed credential id on the card.
func (s *Service) PollWalletClaim(ctx context.Context, cardID string) (*carddomain.MembershipCard, error) {
	card, err := s.cards.GetByID(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("load card: %w", err)
	}
	if card == nil {
		return nil, ErrCardNotFound
	}
	if card.WalletScannedAt != nil {
		return card, nil
	}
	if card.WalletTransactionID == "" {
		return nil, ErrNoWalletIssuance
	}
	if s.bridge == nil {
		return nil, ErrNoWalletIssuance
	}

	result, err := s.bridge.PollCredential(ctx, card.WalletTransactionID)
	if err != nil {
		// Not-ready passes through untouched so callers can poll again.
		return nil, err
	}

	cid, err := wallet.ExtractCID(result.CredentialToken)
	if err != nil {
		return nil, err
	}

	now := s.now()
	marked, err := s.cards.MarkScanned(ctx, card.ID, cid, now)
	if err != nil {
		return nil, fmt.Errorf("mark scanned: %w", err)
	}
	if marked {
		card.WalletCredentialID = cid
		card.WalletScannedAt = &now
		if s.audit != nil {
			contextJSON, _ := json.Marshal(map[string]string{"credential_id": cid})
			s.audit.Record(ctx, card.WalletTransactionID, card.ID, "wallet_claimed", contextJSON, "")
		}
		return card, nil
	}

	// Lost the race against a concurrent poll; return the stored state.
	fresh, err := s.cards.GetByID(ctx, card.ID)
	if err != nil {
		return nil, fmt.Errorf("reload card: %w", err)
	}
	if fresh == nil {
		return nil, ErrCardNotFound
	}
	return fresh, nil
}

func (s *Service) recordOutcome(ctx context.Context, req *IssueRequest, cardID, result string) {
	if s.audit == nil {
		return
	}
	contextJSON, _ := json.Marshal(map[string]string{
		"issuer_id":        req.IssuerID,
		"upstream_user_id": req.UpstreamUserID,
	})
	s.audit.Record(ctx, req.ProofReference, cardID, result, contextJSON, "")
}

func walletCredentialType(issuer *issuerdomain.CardIssuer) string {
	if issuer.WalletCredentialTypeID != "" {
		return issuer.WalletCredentialTypeID
	}
	return issuer.ID
}

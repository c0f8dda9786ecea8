package issuance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	carddomain "membercard-engine/internal/card/domain"
	issuerdomain "membercard-engine/internal/issuer/domain"
	memberdomain "membercard-engine/internal/member/domain"
	"membercard-engine/internal/policy/engine"
	"membercard-engine/internal/proof"
	"membercard-engine/internal/wallet"
)

type fakeCardRepo struct {
	mu    sync.Mutex
	cards map[string]*carddomain.MembershipCard
}

func newFakeCardRepo() *fakeCardRepo {
	return &fakeCardRepo{cards: make(map[string]*carddomain.MembershipCard)}
}

func (r *fakeCardRepo) GetByID(_ context.Context, id string) (*carddomain.MembershipCard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[id]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (r *fakeCardRepo) FindActiveUnexpired(_ context.Context, issuerID, memberID string) (*carddomain.MembershipCard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cards {
		if c.IssuerID == issuerID && c.MemberID == memberID && c.ActiveUnexpired(time.Now()) {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeCardRepo) Create(_ context.Context, c *carddomain.MembershipCard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.cards {
		if existing.IssuerID == c.IssuerID && existing.MemberID == c.MemberID && existing.Status == carddomain.StatusActive {
			existing.Status = carddomain.StatusSuperseded
		}
	}
	copied := *c
	r.cards[c.ID] = &copied
	return nil
}

func (r *fakeCardRepo) Extend(_ context.Context, cardID string, days int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.cards[cardID]
	exp := time.Now().Add(time.Duration(days) * 24 * time.Hour)
	c.ExpiresAt = &exp
	now := time.Now()
	c.LastVerifiedAt = &now
	c.VerificationFailures = 0
	return nil
}

func (r *fakeCardRepo) Fail(_ context.Context, cardID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.cards[cardID]
	c.VerificationFailures++
	now := time.Now()
	c.LastVerifiedAt = &now
	return c.VerificationFailures, nil
}

func (r *fakeCardRepo) SetStatus(_ context.Context, cardID string, status carddomain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cards[cardID].Status = status
	return nil
}

func (r *fakeCardRepo) AttachWalletIssuance(_ context.Context, cardID, transactionID, qrCode, deepLink string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.cards[cardID]
	c.WalletTransactionID = transactionID
	c.WalletQR = qrCode
	c.WalletDeepLink = deepLink
	return nil
}

func (r *fakeCardRepo) MarkScanned(_ context.Context, cardID, credentialID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.cards[cardID]
	if c.WalletScannedAt != nil {
		return false, nil
	}
	c.WalletCredentialID = credentialID
	c.WalletScannedAt = &at
	return true, nil
}

func (r *fakeCardRepo) FindNeedingVerification(_ context.Context, cutoff time.Time, limit int) ([]*carddomain.MembershipCard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*carddomain.MembershipCard
	for _, c := range r.cards {
		if c.Status != carddomain.StatusActive {
			continue
		}
		if c.LastVerifiedAt == nil || c.LastVerifiedAt.Before(cutoff) {
			copied := *c
			out = append(out, &copied)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeMemberRepo struct {
	mu      sync.Mutex
	members map[string]*memberdomain.Member // keyed by upstream user id
}

func newFakeMemberRepo() *fakeMemberRepo {
	return &fakeMemberRepo{members: make(map[string]*memberdomain.Member)}
}

func (r *fakeMemberRepo) GetByID(_ context.Context, id string) (*memberdomain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.ID == id {
			copied := *m
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeMemberRepo) GetByUpstreamUserID(_ context.Context, upstreamUserID string) (*memberdomain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[upstreamUserID]
	if !ok {
		return nil, nil
	}
	copied := *m
	return &copied, nil
}

// Upsert mirrors the Postgres contract: the caller supplies id and
// timestamps; on conflict the stored id and created_at win.
func (r *fakeMemberRepo) Upsert(_ context.Context, m *memberdomain.Member) (*memberdomain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == "" {
		return nil, errors.New(`invalid input syntax for type uuid: ""`)
	}
	if m.UpdatedAt.IsZero() {
		return nil, errors.New("member timestamps not set")
	}
	if existing, ok := r.members[m.UpstreamUserID]; ok {
		existing.DisplayName = m.DisplayName
		existing.AvatarURL = m.AvatarURL
		existing.UpdatedAt = m.UpdatedAt
		copied := *existing
		return &copied, nil
	}
	stored := *m
	r.members[m.UpstreamUserID] = &stored
	copied := stored
	return &copied, nil
}

type fakeIssuerRepo struct {
	issuers map[string]*issuerdomain.CardIssuer
}

func (r *fakeIssuerRepo) GetByID(_ context.Context, id string) (*issuerdomain.CardIssuer, error) {
	return r.issuers[id], nil
}

func (r *fakeIssuerRepo) ListActive(_ context.Context) ([]*issuerdomain.CardIssuer, error) {
	var out []*issuerdomain.CardIssuer
	for _, i := range r.issuers {
		if i.IsActive {
			out = append(out, i)
		}
	}
	return out, nil
}

type fakeChecker struct {
	outcome proof.Outcome
	err     error
	calls   int
}

func (c *fakeChecker) Check(_ context.Context, accessToken string, issuer *issuerdomain.CardIssuer, memberUpstreamID, reference string) (proof.Outcome, error) {
	c.calls++
	return c.outcome, c.err
}

type fakePolicy struct {
	result engine.IssuanceResult
}

func (p *fakePolicy) EvaluateIssuance(_ context.Context, issuer *issuerdomain.CardIssuer, evidence *proof.Evidence, now time.Time) (engine.IssuanceResult, error) {
	return p.result, nil
}

func acceptAllPolicy() *fakePolicy {
	return &fakePolicy{result: engine.IssuanceResult{ProofAccepted: true, ExtensionDays: 30, FailureThreshold: 3}}
}

type fakeBridge struct {
	healthErr   error
	issuance    *wallet.QRIssuance
	issueErr    error
	pollResult  *wallet.CredentialResult
	pollErr     error
	healthCalls int
	issueCalls  int
	pollCalls   int
}

func (b *fakeBridge) Health(_ context.Context) error {
	b.healthCalls++
	return b.healthErr
}

func (b *fakeBridge) IssueQR(_ context.Context, credentialTypeID string, fields []wallet.Field) (*wallet.QRIssuance, error) {
	b.issueCalls++
	if b.issueErr != nil {
		return nil, b.issueErr
	}
	return b.issuance, nil
}

func (b *fakeBridge) PollCredential(_ context.Context, transactionID string) (*wallet.CredentialResult, error) {
	b.pollCalls++
	if b.pollErr != nil {
		return nil, b.pollErr
	}
	return b.pollResult, nil
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, string, string, string, []byte, string) {}

func activeIssuer() *issuerdomain.CardIssuer {
	return &issuerdomain.CardIssuer{
		ID:                     "issuer-1",
		ChannelName:            "Example Channel",
		VerificationTargetID:   "vid123",
		ProofMethod:            issuerdomain.ProofMethodComment,
		DefaultLabel:           "Gold",
		WalletCredentialTypeID: "vc-type-9",
		IsActive:               true,
	}
}

func confirmedOutcome() proof.Outcome {
	return proof.Confirmed(proof.Evidence{
		Reference:         "cmt456",
		AuthorDisplayName: "Fan",
		Text:              "great video",
		ConfirmedAt:       time.Now().Add(-time.Hour),
	})
}

func testService(cards *fakeCardRepo, members *fakeMemberRepo, checker *fakeChecker, bridge WalletBridge) *Service {
	issuers := &fakeIssuerRepo{issuers: map[string]*issuerdomain.CardIssuer{"issuer-1": activeIssuer()}}
	return NewService(cards, members, issuers, checker, acceptAllPolicy(), bridge, nil, nopAudit{})
}

func issueRequest() *IssueRequest {
	return &IssueRequest{
		IssuerID:       "issuer-1",
		UpstreamUserID: "UC_member",
		DisplayName:    "Fan",
		AccessToken:    "token",
		ProofReference: "cmt456",
	}
}

func TestIssueCard_HappyPath(t *testing.T) {
	cards := newFakeCardRepo()
	checker := &fakeChecker{outcome: confirmedOutcome()}
	bridge := &fakeBridge{issuance: &wallet.QRIssuance{
		TransactionID: "tx-1", QRCode: "qr-b64", DeepLink: "wallet://claim/tx-1",
	}}
	svc := testService(cards, newFakeMemberRepo(), checker, bridge)

	card, err := svc.IssueCard(context.Background(), issueRequest())
	if err != nil {
		t.Fatalf("IssueCard: %v", err)
	}
	if card.Status != carddomain.StatusActive {
		t.Fatalf("status = %s, want active", card.Status)
	}
	if card.ExpiresAt == nil {
		t.Fatal("card has no expiry")
	}
	wantExp := time.Now().Add(30 * 24 * time.Hour)
	if diff := card.ExpiresAt.Sub(wantExp); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("expiry = %v, want ~%v", card.ExpiresAt, wantExp)
	}
	if card.WalletTransactionID != "tx-1" || card.WalletQR != "qr-b64" || card.WalletDeepLink != "wallet://claim/tx-1" {
		t.Fatalf("wallet fields = %+v", card)
	}
	if card.ProofReference != "cmt456" {
		t.Fatalf("proof reference = %q", card.ProofReference)
	}
	if len(card.Snapshot) == 0 {
		t.Fatal("card has no audit snapshot")
	}
	if bridge.healthCalls != 1 || bridge.issueCalls != 1 {
		t.Fatalf("bridge calls = %d health, %d issue", bridge.healthCalls, bridge.issueCalls)
	}
}

func TestIssueCard_WalletDownFailsBeforeProof(t *testing.T) {
	checker := &fakeChecker{outcome: confirmedOutcome()}
	bridge := &fakeBridge{healthErr: wallet.ErrWalletUnavailable}
	svc := testService(newFakeCardRepo(), newFakeMemberRepo(), checker, bridge)

	_, err := svc.IssueCard(context.Background(), issueRequest())
	if !errors.Is(err, wallet.ErrWalletUnavailable) {
		t.Fatalf("err = %v, want ErrWalletUnavailable", err)
	}
	if checker.calls != 0 {
		t.Fatalf("proof checker called %d times before wallet health cleared", checker.calls)
	}
}

func TestIssueCard_NoWalletConfigured(t *testing.T) {
	cards := newFakeCardRepo()
	checker := &fakeChecker{outcome: confirmedOutcome()}
	svc := testService(cards, newFakeMemberRepo(), checker, nil)

	card, err := svc.IssueCard(context.Background(), issueRequest())
	if err != nil {
		t.Fatalf("IssueCard: %v", err)
	}
	if card.WalletTransactionID != "" {
		t.Fatalf("wallet transaction id = %q, want empty", card.WalletTransactionID)
	}
}

func TestIssueCard_UnknownIssuer(t *testing.T) {
	svc := testService(newFakeCardRepo(), newFakeMemberRepo(), &fakeChecker{outcome: confirmedOutcome()}, nil)
	req := issueRequest()
	req.IssuerID = "nope"

	if _, err := svc.IssueCard(context.Background(), req); !errors.Is(err, ErrIssuerNotFound) {
		t.Fatalf("err = %v, want ErrIssuerNotFound", err)
	}
}

func TestIssueCard_InactiveIssuer(t *testing.T) {
	inactive := activeIssuer()
	inactive.IsActive = false
	issuers := &fakeIssuerRepo{issuers: map[string]*issuerdomain.CardIssuer{"issuer-1": inactive}}
	svc := NewService(newFakeCardRepo(), newFakeMemberRepo(), issuers,
		&fakeChecker{outcome: confirmedOutcome()}, acceptAllPolicy(), nil, nil, nopAudit{})

	if _, err := svc.IssueCard(context.Background(), issueRequest()); !errors.Is(err, ErrIssuerNotFound) {
		t.Fatalf("err = %v, want ErrIssuerNotFound", err)
	}
}

func TestIssueCard_ProofFailures(t *testing.T) {
	reasons := []proof.Reason{
		proof.ReasonWrongVideo,
		proof.ReasonOwnershipMismatch,
		proof.ReasonInvalidReference,
		proof.ReasonNotFound,
	}
	for _, reason := range reasons {
		t.Run(string(reason), func(t *testing.T) {
			checker := &fakeChecker{outcome: proof.NotAMember(reason)}
			svc := testService(newFakeCardRepo(), newFakeMemberRepo(), checker, nil)

			_, err := svc.IssueCard(context.Background(), issueRequest())
			var proofErr *ProofFailedError
			if !errors.As(err, &proofErr) {
				t.Fatalf("err = %v, want ProofFailedError", err)
			}
			if proofErr.Reason != reason {
				t.Fatalf("reason = %s, want %s", proofErr.Reason, reason)
			}
		})
	}
}

func TestIssueCard_ProofIndeterminate(t *testing.T) {
	checker := &fakeChecker{outcome: proof.Indeterminate(proof.CauseTokenExpired)}
	svc := testService(newFakeCardRepo(), newFakeMemberRepo(), checker, nil)

	_, err := svc.IssueCard(context.Background(), issueRequest())
	var indErr *ProofIndeterminateError
	if !errors.As(err, &indErr) {
		t.Fatalf("err = %v, want ProofIndeterminateError", err)
	}
	if indErr.Cause != proof.CauseTokenExpired {
		t.Fatalf("cause = %s", indErr.Cause)
	}
}

func TestIssueCard_PolicyRejects(t *testing.T) {
	issuers := &fakeIssuerRepo{issuers: map[string]*issuerdomain.CardIssuer{"issuer-1": activeIssuer()}}
	policy := &fakePolicy{result: engine.IssuanceResult{
		ProofAccepted: false, RejectReason: "proof is older than 7 days",
		ExtensionDays: 30, FailureThreshold: 3,
	}}
	svc := NewService(newFakeCardRepo(), newFakeMemberRepo(), issuers,
		&fakeChecker{outcome: confirmedOutcome()}, policy, nil, nil, nopAudit{})

	_, err := svc.IssueCard(context.Background(), issueRequest())
	var polErr *PolicyRejectedError
	if !errors.As(err, &polErr) {
		t.Fatalf("err = %v, want PolicyRejectedError", err)
	}
}

func TestIssueCard_Duplicate(t *testing.T) {
	cards := newFakeCardRepo()
	members := newFakeMemberRepo()
	checker := &fakeChecker{outcome: confirmedOutcome()}
	svc := testService(cards, members, checker, nil)

	first, err := svc.IssueCard(context.Background(), issueRequest())
	if err != nil {
		t.Fatalf("first IssueCard: %v", err)
	}

	_, err = svc.IssueCard(context.Background(), issueRequest())
	var dupErr *DuplicateCardError
	if !errors.As(err, &dupErr) {
		t.Fatalf("err = %v, want DuplicateCardError", err)
	}
	if dupErr.ExistingCardID != first.ID {
		t.Fatalf("existing card = %s, want %s", dupErr.ExistingCardID, first.ID)
	}
	if dupErr.ExpiresAt == nil {
		t.Fatal("duplicate error carries no expiry")
	}
}

func TestIssueCard_RefreshesMemberProfile(t *testing.T) {
	members := newFakeMemberRepo()
	checker := &fakeChecker{outcome: confirmedOutcome()}
	svc := testService(newFakeCardRepo(), members, checker, nil)

	if _, err := svc.IssueCard(context.Background(), issueRequest()); err != nil {
		t.Fatalf("IssueCard: %v", err)
	}

	m, _ := members.GetByUpstreamUserID(context.Background(), "UC_member")
	if m == nil {
		t.Fatal("member not upserted")
	}
	// Evidence display name wins over the session one.
	if m.DisplayName != "Fan" {
		t.Fatalf("display name = %q", m.DisplayName)
	}
}

func TestIssueCard_MemberGetsIDAndTimestamps(t *testing.T) {
	members := newFakeMemberRepo()
	checker := &fakeChecker{outcome: confirmedOutcome()}
	svc := testService(newFakeCardRepo(), members, checker, nil)

	card, err := svc.IssueCard(context.Background(), issueRequest())
	if err != nil {
		t.Fatalf("IssueCard: %v", err)
	}

	m, _ := members.GetByUpstreamUserID(context.Background(), "UC_member")
	if m == nil {
		t.Fatal("member not upserted")
	}
	if m.ID == "" {
		t.Fatal("member has no id")
	}
	if _, err := uuid.Parse(m.ID); err != nil {
		t.Fatalf("member id %q is not a uuid: %v", m.ID, err)
	}
	if m.CreatedAt.IsZero() || m.UpdatedAt.IsZero() {
		t.Fatalf("member timestamps not set: created=%v updated=%v", m.CreatedAt, m.UpdatedAt)
	}
	if card.MemberID != m.ID {
		t.Fatalf("card member id = %q, want %q", card.MemberID, m.ID)
	}

	// A later claim by the same upstream user keeps the stored id.
	cards2 := newFakeCardRepo()
	svc2 := testService(cards2, members, &fakeChecker{outcome: confirmedOutcome()}, nil)
	card2, err := svc2.IssueCard(context.Background(), issueRequest())
	if err != nil {
		t.Fatalf("second IssueCard: %v", err)
	}
	if card2.MemberID != m.ID {
		t.Fatalf("second card member id = %q, want %q", card2.MemberID, m.ID)
	}
}

func claimToken(t *testing.T, jti string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"jti": jti})
	signed, err := token.SignedString([]byte("key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestPollWalletClaim_NotReadyThenReady(t *testing.T) {
	cards := newFakeCardRepo()
	checker := &fakeChecker{outcome: confirmedOutcome()}
	bridge := &fakeBridge{
		issuance: &wallet.QRIssuance{TransactionID: "tx-1", QRCode: "qr", DeepLink: "dl"},
		pollErr:  wallet.ErrCredentialNotReady,
	}
	svc := testService(cards, newFakeMemberRepo(), checker, bridge)

	card, err := svc.IssueCard(context.Background(), issueRequest())
	if err != nil {
		t.Fatalf("IssueCard: %v", err)
	}

	if _, err := svc.PollWalletClaim(context.Background(), card.ID); !errors.Is(err, wallet.ErrCredentialNotReady) {
		t.Fatalf("err = %v, want ErrCredentialNotReady", err)
	}

	bridge.pollErr = nil
	bridge.pollResult = &wallet.CredentialResult{
		CredentialToken: claimToken(t, "https://wallet.example.gov/api/credential/cred-42"),
	}

	claimed, err := svc.PollWalletClaim(context.Background(), card.ID)
	if err != nil {
		t.Fatalf("PollWalletClaim: %v", err)
	}
	if claimed.WalletCredentialID != "cred-42" {
		t.Fatalf("credential id = %q, want cred-42", claimed.WalletCredentialID)
	}
	if claimed.WalletScannedAt == nil {
		t.Fatal("scanned_at not set")
	}

	// A later poll does not hit the bridge again.
	polls := bridge.pollCalls
	again, err := svc.PollWalletClaim(context.Background(), card.ID)
	if err != nil {
		t.Fatalf("PollWalletClaim again: %v", err)
	}
	if bridge.pollCalls != polls {
		t.Fatal("already-claimed card polled the bridge again")
	}
	if again.WalletCredentialID != "cred-42" {
		t.Fatalf("credential id = %q", again.WalletCredentialID)
	}
}

func TestPollWalletClaim_UnknownCard(t *testing.T) {
	svc := testService(newFakeCardRepo(), newFakeMemberRepo(), &fakeChecker{}, &fakeBridge{})
	if _, err := svc.PollWalletClaim(context.Background(), "missing"); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("err = %v, want ErrCardNotFound", err)
	}
}

func TestPollWalletClaim_NoIssuance(t *testing.T) {
	cards := newFakeCardRepo()
	checker := &fakeChecker{outcome: confirmedOutcome()}
	svc := testService(cards, newFakeMemberRepo(), checker, nil)

	card, err := svc.IssueCard(context.Background(), issueRequest())
	if err != nil {
		t.Fatalf("IssueCard: %v", err)
	}
	if _, err := svc.PollWalletClaim(context.Background(), card.ID); !errors.Is(err, ErrNoWalletIssuance) {
		t.Fatalf("err = %v, want ErrNoWalletIssuance", err)
	}
}

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	issuerdomain "membercard-engine/internal/issuer/domain"
	"membercard-engine/internal/policy/domain"
	"membercard-engine/internal/policy/repository"
	"membercard-engine/internal/proof"
)

// mockPolicyRepo implements repository.Repository for tests.
type mockPolicyRepo struct {
	policies map[string][]*domain.IssuancePolicy
	err      error
}

var _ repository.Repository = (*mockPolicyRepo)(nil)

func (m *mockPolicyRepo) GetByID(ctx context.Context, id string) (*domain.IssuancePolicy, error) {
	return nil, nil
}

func (m *mockPolicyRepo) ListEnabledByIssuer(ctx context.Context, issuerID string) ([]*domain.IssuancePolicy, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.policies[issuerID], nil
}

func (m *mockPolicyRepo) Create(ctx context.Context, p *domain.IssuancePolicy) error {
	return nil
}

func testPolicyIssuer() *issuerdomain.CardIssuer {
	return &issuerdomain.CardIssuer{
		ID:          "issuer-1",
		ProofMethod: issuerdomain.ProofMethodComment,
		IsActive:    true,
	}
}

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	e := NewOPAEvaluator(nil)
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultPolicy(t *testing.T) {
	repo := &mockPolicyRepo{policies: make(map[string][]*domain.IssuancePolicy)}
	e := NewOPAEvaluator(repo)

	now := time.Now()
	ev := &proof.Evidence{Reference: "cmt456", ConfirmedAt: now.Add(-365 * 24 * time.Hour)}
	result, err := e.EvaluateIssuance(context.Background(), testPolicyIssuer(), ev, now)
	if err != nil {
		t.Fatalf("EvaluateIssuance: %v", err)
	}
	// Default policy: no age gate, any comment age is accepted.
	if !result.ProofAccepted {
		t.Fatalf("proof rejected under default policy: %s", result.RejectReason)
	}
	if result.ExtensionDays != 30 {
		t.Fatalf("ExtensionDays = %d, want 30", result.ExtensionDays)
	}
	if result.FailureThreshold != 3 {
		t.Fatalf("FailureThreshold = %d, want 3", result.FailureThreshold)
	}
}

func TestOPAEvaluator_AgeGateOverride(t *testing.T) {
	override := `package membercard.issuance

default age_gate_enabled = true
default max_comment_age_days = 7
default extension_days = 30
default failure_threshold = 3
`
	repo := &mockPolicyRepo{policies: map[string][]*domain.IssuancePolicy{
		"issuer-1": {{ID: "p1", IssuerID: "issuer-1", Rules: override, Enabled: true}},
	}}
	e := NewOPAEvaluator(repo)
	now := time.Now()

	fresh := &proof.Evidence{Reference: "cmt456", ConfirmedAt: now.Add(-24 * time.Hour)}
	result, err := e.EvaluateIssuance(context.Background(), testPolicyIssuer(), fresh, now)
	if err != nil {
		t.Fatalf("EvaluateIssuance: %v", err)
	}
	if !result.ProofAccepted {
		t.Fatalf("fresh proof rejected: %s", result.RejectReason)
	}

	stale := &proof.Evidence{Reference: "cmt456", ConfirmedAt: now.Add(-30 * 24 * time.Hour)}
	result, err = e.EvaluateIssuance(context.Background(), testPolicyIssuer(), stale, now)
	if err != nil {
		t.Fatalf("EvaluateIssuance: %v", err)
	}
	if result.ProofAccepted {
		t.Fatal("stale proof accepted despite age gate")
	}
	if result.RejectReason == "" {
		t.Fatal("rejection carries no reason")
	}
}

func TestOPAEvaluator_ExtensionOverride(t *testing.T) {
	override := `package membercard.issuance

default age_gate_enabled = false
default max_comment_age_days = 0
default extension_days = 90
default failure_threshold = 5
`
	repo := &mockPolicyRepo{policies: map[string][]*domain.IssuancePolicy{
		"issuer-1": {{ID: "p1", IssuerID: "issuer-1", Rules: override, Enabled: true}},
	}}
	e := NewOPAEvaluator(repo)

	result, err := e.EvaluateIssuance(context.Background(), testPolicyIssuer(), &proof.Evidence{Reference: "cmt456"}, time.Now())
	if err != nil {
		t.Fatalf("EvaluateIssuance: %v", err)
	}
	if result.ExtensionDays != 90 {
		t.Fatalf("ExtensionDays = %d, want 90", result.ExtensionDays)
	}
	if result.FailureThreshold != 5 {
		t.Fatalf("FailureThreshold = %d, want 5", result.FailureThreshold)
	}
}

func TestOPAEvaluator_RepoErrorFallsBackToDefaults(t *testing.T) {
	repo := &mockPolicyRepo{err: errors.New("db down")}
	e := NewOPAEvaluator(repo)

	result, err := e.EvaluateIssuance(context.Background(), testPolicyIssuer(), &proof.Evidence{Reference: "cmt456"}, time.Now())
	if err != nil {
		t.Fatalf("EvaluateIssuance: %v", err)
	}
	if !result.ProofAccepted || result.ExtensionDays != 30 || result.FailureThreshold != 3 {
		t.Fatalf("result = %+v, want defaults", result)
	}
}

func TestOPAEvaluator_BrokenPolicyFallsBackToDefaults(t *testing.T) {
	repo := &mockPolicyRepo{policies: map[string][]*domain.IssuancePolicy{
		"issuer-1": {{ID: "p1", IssuerID: "issuer-1", Rules: "this is not rego {{{", Enabled: true}},
	}}
	e := NewOPAEvaluator(repo)

	result, err := e.EvaluateIssuance(context.Background(), testPolicyIssuer(), &proof.Evidence{Reference: "cmt456"}, time.Now())
	if err != nil {
		t.Fatalf("EvaluateIssuance: %v", err)
	}
	if !result.ProofAccepted || result.ExtensionDays != 30 || result.FailureThreshold != 3 {
		t.Fatalf("result = %+v, want defaults", result)
	}
}

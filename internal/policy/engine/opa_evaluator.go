package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	issuerdomain "membercard-engine/internal/issuer/domain"
	"membercard-engine/internal/policy/repository"
	"membercard-engine/internal/proof"
)

const policyPackage = "membercard.issuance"

// Default Rego policy. The age gate is off: any comment that passes the
// ownership and video checks is accepted regardless of when it was posted.
// Issuers can re-enable the gate with an override policy setting
// age_gate_enabled and max_comment_age_days.
const defaultRegoPolicy = `package membercard.issuance

default age_gate_enabled = false
default max_comment_age_days = 0
default extension_days = 30
default failure_threshold = 3
`

// OPAEvaluator evaluates issuance policies using OPA Rego.
type OPAEvaluator struct {
	policyRepo repository.Repository
}

// NewOPAEvaluator returns an OPA-based issuance policy evaluator.
func NewOPAEvaluator(policyRepo repository.Repository) *OPAEvaluator {
	return &OPAEvaluator{policyRepo: policyRepo}
}

// HealthCheck verifies that the in-process OPA Rego engine can compile and
// evaluate the default policy. Does not touch the database.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	compiler, err := ast.CompileModules(map[string]string{"policy_0.rego": defaultRegoPolicy})
	if err != nil {
		return fmt.Errorf("compile default policy: %w", err)
	}
	q := rego.New(
		rego.Query("data."+policyPackage+".age_gate_enabled"),
		rego.Compiler(compiler),
		rego.Input(map[string]interface{}{}),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return fmt.Errorf("eval default policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

// EvaluateIssuance evaluates the issuer's enabled policies (or the default
// policy when the issuer has none) against the proof evidence. Evaluation
// failure falls back to the defaults rather than blocking issuance.
func (e *OPAEvaluator) EvaluateIssuance(ctx context.Context, issuer *issuerdomain.CardIssuer, evidence *proof.Evidence, now time.Time) (IssuanceResult, error) {
	input := e.buildInput(issuer, evidence, now)

	var policies []string
	if issuer != nil && e.policyRepo != nil {
		enabled, err := e.policyRepo.ListEnabledByIssuer(ctx, issuer.ID)
		if err != nil {
			log.Printf("policy: load policies for issuer %s: %v", issuer.ID, err)
		} else {
			for _, p := range enabled {
				if p.Enabled && p.Rules != "" {
					policies = append(policies, p.Rules)
				}
			}
		}
	}
	if len(policies) == 0 {
		policies = []string{defaultRegoPolicy}
	}

	result, err := e.evaluatePolicies(ctx, policies, input, evidence, now)
	if err != nil {
		log.Printf("policy: evaluation failed: %v, using defaults", err)
		return defaultResult(), nil
	}
	return result, nil
}

func (e *OPAEvaluator) buildInput(issuer *issuerdomain.CardIssuer, evidence *proof.Evidence, now time.Time) map[string]interface{} {
	issuerMap := map[string]interface{}{
		"id":           "",
		"proof_method": "",
	}
	if issuer != nil {
		issuerMap["id"] = issuer.ID
		issuerMap["proof_method"] = string(issuer.ProofMethod)
	}

	proofMap := map[string]interface{}{
		"reference":    "",
		"confirmed_at": nil,
		"age_days":     0,
	}
	if evidence != nil {
		proofMap["reference"] = evidence.Reference
		if !evidence.ConfirmedAt.IsZero() {
			proofMap["confirmed_at"] = evidence.ConfirmedAt.Format(time.RFC3339)
			proofMap["age_days"] = int(now.Sub(evidence.ConfirmedAt).Hours() / 24)
		}
	}

	return map[string]interface{}{
		"issuer": issuerMap,
		"proof":  proofMap,
		"now":    now.UTC().Format(time.RFC3339),
	}
}

func (e *OPAEvaluator) evaluatePolicies(ctx context.Context, policies []string, input map[string]interface{}, evidence *proof.Evidence, now time.Time) (IssuanceResult, error) {
	modules := make(map[string]string)
	for i, policy := range policies {
		modules[fmt.Sprintf("policy_%d.rego", i)] = policy
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return IssuanceResult{}, fmt.Errorf("compile policies: %w", err)
	}

	out := defaultResult()

	ageGateEnabled := false
	if v, ok := e.queryBool(ctx, compiler, input, "age_gate_enabled"); ok {
		ageGateEnabled = v
	}
	maxAgeDays := 0
	if v, ok := e.queryInt(ctx, compiler, input, "max_comment_age_days"); ok {
		maxAgeDays = v
	}
	if v, ok := e.queryInt(ctx, compiler, input, "extension_days"); ok && v > 0 {
		out.ExtensionDays = v
	}
	if v, ok := e.queryInt(ctx, compiler, input, "failure_threshold"); ok && v > 0 {
		out.FailureThreshold = v
	}

	if ageGateEnabled && maxAgeDays > 0 && evidence != nil && !evidence.ConfirmedAt.IsZero() {
		if now.Sub(evidence.ConfirmedAt) > time.Duration(maxAgeDays)*24*time.Hour {
			out.ProofAccepted = false
			out.RejectReason = fmt.Sprintf("proof is older than %d days", maxAgeDays)
		}
	}

	return out, nil
}

func (e *OPAEvaluator) queryBool(ctx context.Context, compiler *ast.Compiler, input map[string]interface{}, name string) (bool, bool) {
	q := rego.New(
		rego.Query("data."+policyPackage+"."+name),
		rego.Compiler(compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil || len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, false
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	return v, ok
}

func (e *OPAEvaluator) queryInt(ctx context.Context, compiler *ast.Compiler, input map[string]interface{}, name string) (int, bool) {
	q := rego.New(
		rego.Query("data."+policyPackage+"."+name),
		rego.Compiler(compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil || len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return 0, false
	}
	switch v := rs[0].Expressions[0].Value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	case float64:
		return int(v), true
	case int64:
		return int(v), true
	}
	return 0, false
}

func defaultResult() IssuanceResult {
	return IssuanceResult{
		ProofAccepted:    true,
		ExtensionDays:    30,
		FailureThreshold: 3,
	}
}

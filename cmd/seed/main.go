// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev issuer already exists.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"membercard-engine/internal/config"
	"membercard-engine/internal/db"
	issuerdomain "membercard-engine/internal/issuer/domain"
	issuerrepo "membercard-engine/internal/issuer/repository"
	policydomain "membercard-engine/internal/policy/domain"
	policyrepo "membercard-engine/internal/policy/repository"
)

// devRegoPolicy enables the comment age gate for the dev issuer so local
// testing exercises the override path in internal/policy/engine.
const devRegoPolicy = `package membercard.issuance

default age_gate_enabled = true
default max_comment_age_days = 365
default extension_days = 30
default failure_threshold = 3
`

const (
	devIssuerID = "00000000-0000-0000-0000-00000000c001"
	devPolicyID = "00000000-0000-0000-0000-00000000f001"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	issuers := issuerrepo.NewPostgresRepository(conn)
	policies := policyrepo.NewPostgresRepository(conn)

	existing, err := issuers.GetByID(ctx, devIssuerID)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Println("Seed already applied (dev issuer exists). Skipping.")
		os.Exit(0)
	}

	now := time.Now().UTC()

	if err := issuers.Create(ctx, &issuerdomain.CardIssuer{
		ID:                     devIssuerID,
		UpstreamChannelID:      "UCdev0000000000000000000",
		ChannelName:            "Dev Channel",
		ChannelHandle:          "@devchannel",
		VerificationTargetID:   "devVideo00001",
		ProofMethod:            issuerdomain.ProofMethodComment,
		DefaultLabel:           "Member",
		WalletCredentialTypeID: "dev-membership-card",
		IsActive:               true,
		CreatedAt:              now,
	}); err != nil {
		log.Fatalf("create dev issuer: %v", err)
	}

	if err := policies.Create(ctx, &policydomain.IssuancePolicy{
		ID:        devPolicyID,
		IssuerID:  devIssuerID,
		Rules:     devRegoPolicy,
		Enabled:   true,
		CreatedAt: now,
	}); err != nil {
		log.Fatalf("create dev policy: %v", err)
	}

	log.Println("Seed completed successfully.")
	log.Printf("Dev issuer: %s (video %s)", devIssuerID, "devVideo00001")
}

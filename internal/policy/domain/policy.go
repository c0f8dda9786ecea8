package domain

import "time"

// IssuancePolicy is a per-issuer Rego policy governing how cards are issued.
type IssuancePolicy struct {
	ID        string
	IssuerID  string
	Rules     string
	Enabled   bool
	CreatedAt time.Time
}

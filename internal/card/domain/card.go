package domain

import "time"

// Status is the closed set of card lifecycle states. Only StatusActive is
// non-terminal; every consumer must switch exhaustively and never collapse
// the distinctions to a boolean.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
	StatusExpired    Status = "expired"
	StatusRevoked    Status = "revoked"
	StatusSuspended  Status = "suspended"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool { return s != StatusActive }

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuperseded, StatusExpired, StatusRevoked, StatusSuspended:
		return true
	}
	return false
}

// Lifecycle defaults. The per-issuer issuance policy may override the
// threshold and extension; the sweep interval is fixed.
const (
	FailureThreshold = 3
	ExtensionDays    = 30
	ReverifyInterval = 24 * time.Hour
)

// MembershipCard is the engine's own record of a confirmed membership, with
// a lifecycle independent of the upstream platform's billing cycle.
type MembershipCard struct {
	ID                   string
	IssuerID             string
	MemberID             string
	LevelLabel           string
	ConfirmedAt          time.Time
	ProofReference       string
	Snapshot             []byte // audit snapshot, JSON
	QRSignature          string
	Status               Status
	ExpiresAt            *time.Time
	LastVerifiedAt       *time.Time
	VerificationFailures int
	IssuedAt             time.Time

	// Wallet hand-off fields; empty/nil until the wallet QR is minted and,
	// later, the credential is claimed.
	WalletTransactionID string
	WalletQR            string
	WalletDeepLink      string
	WalletCredentialID  string
	WalletScannedAt     *time.Time
}

// ActiveUnexpired reports whether the card currently counts against the
// one-active-card-per-(issuer,member) invariant.
func (c *MembershipCard) ActiveUnexpired(now time.Time) bool {
	if c == nil || c.Status != StatusActive {
		return false
	}
	return c.ExpiresAt == nil || c.ExpiresAt.After(now)
}

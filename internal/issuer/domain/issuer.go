package domain

import "time"

// ProofMethod selects how membership is proven for an issuer.
type ProofMethod string

const (
	// ProofMethodComment verifies a member-posted comment on the verification video.
	ProofMethodComment ProofMethod = "comment"
	// ProofMethodVideo verifies access to a members-only video.
	ProofMethodVideo ProofMethod = "video"
)

// CardIssuer is a channel that issues membership cards. Static configuration;
// read-only from the engine's perspective.
type CardIssuer struct {
	ID                     string
	UpstreamChannelID      string
	ChannelName            string
	ChannelHandle          string
	VerificationTargetID   string
	ProofMethod            ProofMethod
	DefaultLabel           string
	WalletCredentialTypeID string
	IsActive               bool
	CreatedAt              time.Time
}

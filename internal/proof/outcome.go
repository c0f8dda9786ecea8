package proof

import "time"

// Reason is a terminal negative: the member does not qualify and the same
// request will never succeed. Reasons are never retried.
type Reason string

const (
	ReasonNotAMember        Reason = "not_a_member"
	ReasonWrongVideo        Reason = "wrong_video"
	ReasonOwnershipMismatch Reason = "ownership_mismatch"
	ReasonInvalidReference  Reason = "invalid_reference"
	ReasonNotFound          Reason = "not_found"
)

// Cause classifies an indeterminate check: no verdict was reached and the
// caller may retry after addressing the cause.
type Cause string

const (
	CauseTokenExpired  Cause = "token_expired"
	CauseUpstreamError Cause = "upstream_error"
)

// Evidence records what the successful check observed, for the audit trail
// and for refreshing the member profile.
type Evidence struct {
	Reference         string
	AuthorDisplayName string
	Text              string
	ConfirmedAt       time.Time
}

// Outcome is the closed result of a membership check. Exactly one of the
// three constructors produces it; consumers switch on Kind and must treat
// unknown kinds as a bug.
type Outcome struct {
	Kind     Kind
	Evidence *Evidence // set only when Kind == KindConfirmed
	Reason   Reason    // set only when Kind == KindNotAMember
	Cause    Cause     // set only when Kind == KindIndeterminate
}

type Kind string

const (
	KindConfirmed     Kind = "confirmed"
	KindNotAMember    Kind = "not_a_member"
	KindIndeterminate Kind = "indeterminate"
)

func Confirmed(ev Evidence) Outcome {
	return Outcome{Kind: KindConfirmed, Evidence: &ev}
}

func NotAMember(reason Reason) Outcome {
	return Outcome{Kind: KindNotAMember, Reason: reason}
}

func Indeterminate(cause Cause) Outcome {
	return Outcome{Kind: KindIndeterminate, Cause: cause}
}

// Retryable reports whether re-running the check could change the result.
// Only indeterminate outcomes qualify; a negative verdict is trustworthy.
func (o Outcome) Retryable() bool {
	return o.Kind == KindIndeterminate
}

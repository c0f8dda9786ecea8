package proof

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	issuerdomain "membercard-engine/internal/issuer/domain"
	"membercard-engine/internal/youtube"
)

// Checker decides whether a member currently qualifies for an issuer's card.
// The strategy is selected by the issuer's proof method.
type Checker interface {
	Check(ctx context.Context, accessToken string, issuer *issuerdomain.CardIssuer, memberUpstreamID, reference string) (Outcome, error)
}

// ErrUnknownProofMethod is returned when an issuer is configured with a
// method no strategy handles.
var ErrUnknownProofMethod = errors.New("unknown proof method")

type checker struct {
	yt *youtube.Client
}

// NewChecker returns a Checker backed by the upstream platform API.
func NewChecker(yt *youtube.Client) Checker {
	return &checker{yt: yt}
}

func (c *checker) Check(ctx context.Context, accessToken string, issuer *issuerdomain.CardIssuer, memberUpstreamID, reference string) (Outcome, error) {
	switch issuer.ProofMethod {
	case issuerdomain.ProofMethodComment:
		return c.checkComment(ctx, accessToken, issuer, memberUpstreamID, reference)
	case issuerdomain.ProofMethodVideo:
		return c.checkVideoAccess(ctx, accessToken, issuer)
	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownProofMethod, issuer.ProofMethod)
	}
}

// checkComment verifies a comment reference: the comment must exist, be on
// the issuer's verification target video, and be authored by the member.
func (c *checker) checkComment(ctx context.Context, accessToken string, issuer *issuerdomain.CardIssuer, memberUpstreamID, reference string) (Outcome, error) {
	commentID, videoID, ok := ParseCommentRef(reference)
	if !ok {
		return NotAMember(ReasonInvalidReference), nil
	}
	// A video ID embedded in the link must match the configured target
	// before we spend an API call on the lookup.
	if videoID != "" && videoID != issuer.VerificationTargetID {
		return NotAMember(ReasonWrongVideo), nil
	}

	comment, err := c.yt.CommentByID(ctx, accessToken, commentID)
	if err != nil {
		return classifyUpstream(err)
	}
	if comment == nil {
		return NotAMember(ReasonNotFound), nil
	}
	if comment.VideoID != "" && comment.VideoID != issuer.VerificationTargetID {
		return NotAMember(ReasonWrongVideo), nil
	}
	if comment.AuthorChannelID != memberUpstreamID {
		return NotAMember(ReasonOwnershipMismatch), nil
	}

	return Confirmed(Evidence{
		Reference:         comment.ID,
		AuthorDisplayName: comment.AuthorDisplayName,
		Text:              comment.Text,
		ConfirmedAt:       comment.PublishedAt,
	}), nil
}

// checkVideoAccess probes the issuer's members-only video with the member's
// token. Being able to read it is the membership proof.
func (c *checker) checkVideoAccess(ctx context.Context, accessToken string, issuer *issuerdomain.CardIssuer) (Outcome, error) {
	accessible, err := c.yt.VideoAccessible(ctx, accessToken, issuer.VerificationTargetID)
	if err != nil {
		return classifyUpstream(err)
	}
	if !accessible {
		return NotAMember(ReasonNotAMember), nil
	}
	return Confirmed(Evidence{Reference: issuer.VerificationTargetID}), nil
}

func classifyUpstream(err error) (Outcome, error) {
	if errors.Is(err, youtube.ErrTokenExpired) {
		return Indeterminate(CauseTokenExpired), nil
	}
	return Indeterminate(CauseUpstreamError), err
}

// ParseCommentRef extracts (commentID, videoID) from a user-submitted comment
// reference. Accepted forms:
//
//	https://www.youtube.com/watch?v=VIDEO&lc=COMMENT  -> (COMMENT, VIDEO)
//	bare comment ID (alnum, '-', '_', '.')            -> (ID, "")
//
// Anything else is rejected.
func ParseCommentRef(s string) (commentID, videoID string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", false
	}

	if strings.Contains(s, "://") || strings.HasPrefix(s, "www.") || strings.HasPrefix(s, "youtube.com") {
		raw := s
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return "", "", false
		}
		q := u.Query()
		commentID = q.Get("lc")
		if commentID == "" {
			return "", "", false
		}
		return commentID, q.Get("v"), true
	}

	if !isBareID(s) {
		return "", "", false
	}
	return s, "", true
}

func isBareID(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

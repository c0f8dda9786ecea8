// Package youtube is the upstream Data API client used for membership proof
// checks and channel lookups. Responses are mapped to typed errors so callers
// can distinguish "token invalid" from "membership denied" from "retry later".
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"membercard-engine/internal/retry"
)

const defaultTimeout = 15 * time.Second

// Sentinel errors for the status classes the proof checker branches on.
var (
	// ErrTokenExpired maps HTTP 401: the access token must be refreshed, the
	// check retried. Never a membership verdict.
	ErrTokenExpired = errors.New("access token expired or invalid")
	// ErrChannelNotFound is returned by ChannelByHandle when the handle resolves to nothing.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrInvalidChannelRef is returned when a channel URL/handle cannot be parsed.
	ErrInvalidChannelRef = errors.New("invalid channel reference")
)

// APIError is a non-2xx upstream response outside the mapped classes.
// Retryable reports whether the status is a transient condition (429/5xx).
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("youtube: API error status=%d body=%s", e.StatusCode, e.Body)
}

// Retryable reports whether the error class may be retried with backoff.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable reports whether err is a transient upstream failure.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

// Client calls the YouTube Data API v3.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient returns a client for the given API base (e.g. https://www.googleapis.com/youtube/v3).
// apiKey is only needed for unauthenticated channel lookups and may be empty.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Comment is the snippet of a single comment as returned by the comments endpoint.
type Comment struct {
	ID                string
	AuthorChannelID   string
	AuthorDisplayName string
	VideoID           string
	Text              string
	PublishedAt       time.Time
}

type commentsResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			AuthorChannelID struct {
				Value string `json:"value"`
			} `json:"authorChannelId"`
			AuthorDisplayName string `json:"authorDisplayName"`
			VideoID           string `json:"videoId"`
			TextDisplay       string `json:"textDisplay"`
			PublishedAt       string `json:"publishedAt"`
		} `json:"snippet"`
	} `json:"items"`
}

// CommentByID fetches a comment by ID using the member's access token.
// Returns (nil, nil) when the comment does not exist; errors only for API failures.
func (c *Client) CommentByID(ctx context.Context, accessToken, commentID string) (*Comment, error) {
	u := fmt.Sprintf("%s/comments?part=snippet&id=%s", c.BaseURL, url.QueryEscape(commentID))
	body, err := c.get(ctx, u, accessToken)
	if err != nil {
		return nil, err
	}
	var resp commentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("youtube: parse comments response: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, nil
	}
	item := resp.Items[0]
	publishedAt, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
	if err != nil {
		return nil, fmt.Errorf("youtube: parse publishedAt %q: %w", item.Snippet.PublishedAt, err)
	}
	return &Comment{
		ID:                item.ID,
		AuthorChannelID:   item.Snippet.AuthorChannelID.Value,
		AuthorDisplayName: item.Snippet.AuthorDisplayName,
		VideoID:           item.Snippet.VideoID,
		Text:              item.Snippet.TextDisplay,
		PublishedAt:       publishedAt.UTC(),
	}, nil
}

type videosResponse struct {
	Items []struct {
		ID string `json:"id"`
	} `json:"items"`
}

// VideoAccessible reports whether the member's access token can read metadata
// for the given (members-only) video. 200 with a non-empty item list means
// access; 403/404 and empty lists mean no access; 401 returns ErrTokenExpired.
func (c *Client) VideoAccessible(ctx context.Context, accessToken, videoID string) (bool, error) {
	u := fmt.Sprintf("%s/videos?part=snippet&id=%s", c.BaseURL, url.QueryEscape(videoID))
	body, err := c.get(ctx, u, accessToken)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusForbidden || apiErr.StatusCode == http.StatusNotFound) {
			return false, nil
		}
		return false, err
	}
	var resp videosResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("youtube: parse videos response: %w", err)
	}
	return len(resp.Items) > 0, nil
}

// CommentThreadsAccessible reports whether the member's access token can list
// the comment threads of the given video. Fallback membership signal for
// issuers using the comment proof method during re-verification.
func (c *Client) CommentThreadsAccessible(ctx context.Context, accessToken, videoID string) (bool, error) {
	u := fmt.Sprintf("%s/commentThreads?part=snippet&maxResults=1&videoId=%s", c.BaseURL, url.QueryEscape(videoID))
	_, err := c.get(ctx, u, accessToken)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusForbidden || apiErr.StatusCode == http.StatusNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Channel describes a channel resolved from a handle.
type Channel struct {
	ID     string
	Title  string
	Handle string
}

type channelsResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
	} `json:"items"`
}

// ChannelByHandle resolves a channel handle or channel URL to channel info
// using the API key. Transient upstream failures (429/5xx) are retried with
// bounded backoff before surfacing.
func (c *Client) ChannelByHandle(ctx context.Context, handleOrURL string) (*Channel, error) {
	handle, ok := ExtractChannelHandle(handleOrURL)
	if !ok {
		return nil, ErrInvalidChannelRef
	}
	u := fmt.Sprintf("%s/channels?part=snippet&forHandle=%s&key=%s",
		c.BaseURL, url.QueryEscape(strings.TrimPrefix(handle, "@")), url.QueryEscape(c.APIKey))

	body, err := retry.Do(ctx, retry.DefaultPolicy, IsRetryable, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, u, "")
	})
	if err != nil {
		return nil, err
	}
	var resp channelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("youtube: parse channels response: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, ErrChannelNotFound
	}
	return &Channel{
		ID:     resp.Items[0].ID,
		Title:  resp.Items[0].Snippet.Title,
		Handle: handle,
	}, nil
}

// ExtractChannelHandle pulls "@handle" out of a bare handle or a channel URL
// such as https://www.youtube.com/@handle/videos.
func ExtractChannelHandle(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "@") && len(s) > 1 {
		return s, true
	}
	idx := strings.Index(s, "youtube.com/@")
	if idx < 0 {
		return "", false
	}
	rest := s[idx+len("youtube.com/"):]
	if end := strings.IndexAny(rest, "/?#"); end >= 0 {
		rest = rest[:end]
	}
	if rest == "@" {
		return "", false
	}
	return rest, true
}

func (c *Client) get(ctx context.Context, url, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrTokenExpired
	default:
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
}

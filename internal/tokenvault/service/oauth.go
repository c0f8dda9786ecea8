package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"membercard-engine/internal/config"
)

// RefreshedGrant is the result of a refresh-grant exchange.
type RefreshedGrant struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not rotate it
	ExpiresAt    time.Time
}

// TokenRefresher exchanges a refresh token for a fresh access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*RefreshedGrant, error)
}

// OAuthClient performs refresh-grant exchanges against the upstream token endpoint.
type OAuthClient struct {
	TokenURL     string
	ClientID     string
	ClientSecret config.Secret
	RedirectURL  string
	HTTPClient   *http.Client

	now func() time.Time
}

func NewOAuthClient(cfg *config.Config) *OAuthClient {
	return &OAuthClient{
		TokenURL:     cfg.OAuthTokenURL,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURL:  cfg.OAuthRedirectURL,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
	}
}

func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*RefreshedGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret.Reveal())
	if c.RedirectURL != "" {
		form.Set("redirect_uri", c.RedirectURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned no access token")
	}

	nowFn := c.now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &RefreshedGrant{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    nowFn().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}

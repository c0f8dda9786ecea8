package oidvp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"membercard-engine/internal/config"
)

// ErrNotReady means the holder has not presented their credential yet.
// Callers should poll again; this is not a failure.
var ErrNotReady = errors.New("presentation result not ready")

// QRResponse is the verifier's response to a QR generation request.
type QRResponse struct {
	TransactionID string `json:"transactionId"`
	QRCodeImage   string `json:"qrcodeImage"`
	AuthURI       string `json:"authUri"`
}

// Claim is one attribute disclosed in a verifiable presentation.
type Claim struct {
	EName string `json:"ename"`
	CName string `json:"cname"`
	Value string `json:"value"`
}

// Credential is one credential disclosed in a presentation.
type Credential struct {
	CredentialType string  `json:"credentialType"`
	Claims         []Claim `json:"claims"`
}

// Result is the verifier's verdict on a completed presentation.
type Result struct {
	VerifyResult      bool         `json:"verifyResult"`
	ResultDescription string       `json:"resultDescription"`
	TransactionID     string       `json:"transactionId"`
	Data              []Credential `json:"data"`
}

// Client talks to the OIDVP verifier API.
type Client struct {
	BaseURL     string
	AccessToken config.Secret
	HTTPClient  *http.Client
}

// NewClient returns a verifier client for the configured backend.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL:     strings.TrimSuffix(cfg.VerifierAPIURL, "/"),
		AccessToken: cfg.VerifierAccessToken,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// RequestQR asks the verifier to generate a presentation QR for the
// reference code under the given transaction id.
func (c *Client) RequestQR(ctx context.Context, refCode, transactionID string) (*QRResponse, error) {
	u := fmt.Sprintf("%s/api/oidvp/qrcode?ref=%s&transactionId=%s",
		c.BaseURL, url.QueryEscape(refCode), url.QueryEscape(transactionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("oidvp: build qr request: %w", err)
	}
	req.Header.Set("Access-Token", c.AccessToken.Reveal())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oidvp: qr request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("oidvp: read qr response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("oidvp: qr request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var qr QRResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("oidvp: decode qr response: %w", err)
	}
	return &qr, nil
}

// PollResult checks whether the presentation for the transaction has been
// completed and verified. Returns ErrNotReady while the holder has not
// presented.
func (c *Client) PollResult(ctx context.Context, transactionID string) (*Result, error) {
	reqBody, err := json.Marshal(map[string]string{"transactionId": transactionID})
	if err != nil {
		return nil, fmt.Errorf("oidvp: marshal result request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/oidvp/result", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("oidvp: build result request: %w", err)
	}
	req.Header.Set("Access-Token", c.AccessToken.Reveal())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oidvp: result request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("oidvp: read result response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotReady
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(body)
		if strings.Contains(text, "not ready") || strings.Contains(text, "61010") ||
			strings.Contains(text, "verify result not found") {
			return nil, ErrNotReady
		}
		return nil, fmt.Errorf("oidvp: result request returned %d: %s", resp.StatusCode, strings.TrimSpace(text))
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("oidvp: decode result response: %w", err)
	}
	return &result, nil
}

// ExtractMemberInfo flattens disclosed credentials into a single JSON object:
// the credential type plus each claim keyed by its ename.
func ExtractMemberInfo(credentials []Credential) ([]byte, error) {
	if len(credentials) == 0 {
		return nil, nil
	}
	info := make(map[string]string)
	for _, cred := range credentials {
		info["credentialType"] = cred.CredentialType
		for _, claim := range cred.Claims {
			info[claim.EName] = claim.Value
		}
	}
	return json.Marshal(info)
}

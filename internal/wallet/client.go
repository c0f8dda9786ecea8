package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"membercard-engine/internal/config"
)

const (
	// notScannedCode is the wallet API's error code for "the QR has not been
	// scanned yet". It can arrive on a 2xx body and must map to
	// ErrCredentialNotReady, never to a hard failure.
	notScannedCode = "61010"

	healthProbeTimeout = 3 * time.Second
)

var (
	// ErrCredentialNotReady means the member has not scanned the QR yet.
	// Callers should poll again later; this is not a failure.
	ErrCredentialNotReady = errors.New("wallet credential not ready")
	// ErrWalletUnavailable means the wallet backend failed its health probe.
	ErrWalletUnavailable = errors.New("wallet service unavailable")
	// ErrInvalidCredentialToken means the credential JWT could not be decoded.
	ErrInvalidCredentialToken = errors.New("invalid wallet credential token")
)

// Field is one display field on the issued credential.
type Field struct {
	EName   string `json:"ename"`
	Content string `json:"content"`
}

// QRIssuance is the wallet API's response to a QR mint request.
type QRIssuance struct {
	TransactionID string `json:"transactionId"`
	QRCode        string `json:"qrCode"`
	DeepLink      string `json:"deepLink"`
}

// Client talks to the wallet issuer API.
type Client struct {
	BaseURL     string
	AccessToken config.Secret
	HTTPClient  *http.Client
}

// NewClient returns a wallet client for the configured issuer backend.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL:     strings.TrimSuffix(cfg.WalletAPIURL, "/"),
		AccessToken: cfg.WalletAccessToken,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Health probes the wallet backend with a HEAD request. A response under 500
// counts as healthy; auth errors on HEAD still prove the service is up.
func (c *Client) Health(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, c.BaseURL+"/api/qrcode/data", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: probe returned %d", ErrWalletUnavailable, resp.StatusCode)
	}
	return nil
}

// IssueQR asks the wallet backend to mint a QR credential of the given type
// with the given display fields.
func (c *Client) IssueQR(ctx context.Context, credentialTypeID string, fields []Field) (*QRIssuance, error) {
	body, err := json.Marshal(map[string]interface{}{
		"vcUid":  credentialTypeID,
		"fields": fields,
	})
	if err != nil {
		return nil, fmt.Errorf("wallet: marshal qr request: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, "/api/qrcode/data", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var issuance QRIssuance
	if err := json.Unmarshal(respBody, &issuance); err != nil {
		return nil, fmt.Errorf("wallet: decode qr response: %w", err)
	}
	if issuance.TransactionID == "" {
		return nil, fmt.Errorf("wallet: qr response has no transaction id")
	}
	return &issuance, nil
}

// CredentialResult is the wallet API's response once a QR has been scanned.
type CredentialResult struct {
	CredentialToken string // raw JWT issued to the member's wallet
}

// PollCredential checks whether the QR for the transaction has been scanned.
// Returns ErrCredentialNotReady while the member has not scanned it.
func (c *Client) PollCredential(ctx context.Context, transactionID string) (*CredentialResult, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/api/credential/nonce/"+transactionID, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == http.StatusNotFound || apiErr.Code == notScannedCode {
				return nil, ErrCredentialNotReady
			}
		}
		return nil, err
	}

	var payload struct {
		Code       string `json:"code"`
		Credential string `json:"credential"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("wallet: decode credential response: %w", err)
	}
	// The not-scanned code can arrive with a 200.
	if payload.Code == notScannedCode {
		return nil, ErrCredentialNotReady
	}
	if payload.Credential == "" {
		return nil, fmt.Errorf("wallet: credential response has no token")
	}
	return &CredentialResult{CredentialToken: payload.Credential}, nil
}

// APIError is a non-2xx wallet API response.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("wallet: api returned %d (code %s)", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("wallet: api returned %d", e.StatusCode)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("wallet: build request: %w", err)
	}
	req.Header.Set("Access-Token", c.AccessToken.Reveal())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wallet: request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("wallet: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		var errPayload struct {
			Code string `json:"code"`
		}
		if json.Unmarshal(respBody, &errPayload) == nil {
			apiErr.Code = errPayload.Code
		}
		return nil, apiErr
	}
	return respBody, nil
}

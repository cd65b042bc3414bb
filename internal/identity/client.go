package identity

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
)

// TokenPath is the identity provider endpoint that issues identity tokens.
const TokenPath = "/identity_tokens"

// maxResponseSize bounds how much of a provider response is read.
const maxResponseSize = 1 << 20

// ProviderError is returned when the identity provider answers with an
// error document.
type ProviderError struct {
	// Status is the numeric status reported by the provider.
	Status int
	// Detail is the provider's error value, if it was a string.
	Detail string
}

// Human readable description and recovery hint for provider failures.
const (
	ProviderErrorDescription = "Identity Provider Returned an Error."
	ProviderErrorRecovery    = "There may be a problem with your APPID."
)

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider: %s (status %d)", ProviderErrorDescription, e.Status)
}

// Recovery returns a hint for resolving the failure.
func (e *ProviderError) Recovery() string {
	return ProviderErrorRecovery
}

// TokenRequest is the body sent to the identity provider.
type TokenRequest struct {
	AppID  string `json:"app_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
	Nonce  string `json:"nonce" validate:"required"`
}

// tokenResponse covers both success and failure documents.
type tokenResponse struct {
	IdentityToken string `json:"identity_token,omitempty"`
	Error         any    `json:"error,omitempty"`
	Status        int    `json:"status,omitempty"`
}

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// URL is the base URL of the identity provider.
	URL string
	// HTTPClient is used for all requests. If nil, a client with a 30s
	// timeout is used.
	HTTPClient *http.Client
}

// Client requests identity tokens from an identity provider.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new identity provider client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("identity: provider URL is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("identity: invalid provider URL %q: %w", cfg.URL, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: httpClient,
	}, nil
}

// IdentityToken exchanges a nonce for an identity token for userID.
func (c *Client) IdentityToken(ctx context.Context, appID, userID, nonce string) (string, error) {
	body, err := json.Marshal(TokenRequest{AppID: appID, UserID: userID, Nonce: nonce})
	if err != nil {
		return "", fmt.Errorf("identity: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+TokenPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("identity: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity: request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("identity: read response: %w", err)
	}

	var doc tokenResponse
	if err := json.Unmarshal(data, &doc); err != nil {
		if resp.StatusCode/100 != 2 {
			return "", &ProviderError{Status: resp.StatusCode}
		}
		return "", fmt.Errorf("identity: parse response: %w", err)
	}

	if doc.Error != nil {
		status := doc.Status
		if status == 0 {
			status = resp.StatusCode
		}
		detail, _ := doc.Error.(string)
		return "", &ProviderError{Status: status, Detail: detail}
	}

	if doc.IdentityToken == "" {
		return "", errors.New("identity: response has no identity_token")
	}

	return doc.IdentityToken, nil
}

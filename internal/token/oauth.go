package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clearslate/sweeper/internal/faults"
)

// RefreshResult is a freshly exchanged access token and its expiry.
type RefreshResult struct {
	AccessToken string
	Expiry      time.Time
}

// OAuthClient exchanges refresh tokens for new access tokens.
type OAuthClient interface {
	Refresh(ctx context.Context, refreshToken string) (RefreshResult, error)
}

// HTTPOAuthClient talks to the external OAuth token endpoint.
type HTTPOAuthClient struct {
	tokenURL     string
	clientID     string
	clientSecret string
	client       *http.Client
}

// NewOAuthClient creates a token endpoint client.
func NewOAuthClient(tokenURL, clientID, clientSecret string) *HTTPOAuthClient {
	return &HTTPOAuthClient{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Refresh performs a refresh_token grant. An invalid_grant response is
// classified as an AuthError like any other credential failure.
func (c *HTTPOAuthClient) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return RefreshResult{}, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("failed to refresh token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		if strings.Contains(strings.ToLower(string(body)), "invalid_grant") {
			return RefreshResult{}, &faults.AuthError{Status: resp.StatusCode, Detail: "invalid_grant on refresh"}
		}
		return RefreshResult{}, faults.FromStatus(resp.StatusCode, string(body))
	}

	var decoded tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return RefreshResult{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if decoded.AccessToken == "" {
		return RefreshResult{}, fmt.Errorf("token endpoint returned empty access token")
	}

	return RefreshResult{
		AccessToken: decoded.AccessToken,
		Expiry:      time.Now().Add(time.Duration(decoded.ExpiresIn) * time.Second).UTC(),
	}, nil
}

package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OAuth client registration used by the Antigravity integration. The
// upstream only accepts tokens minted for this client, so the values are
// fixed rather than configurable.
const (
	oauthClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	oauthClientSecret = "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"
	oauthTokenURL     = "https://oauth2.googleapis.com/token"
)

// expirySlack is subtracted from the reported token lifetime so a token is
// never presented to the upstream moments before it lapses.
const expirySlack = 5 * time.Minute

// Credential is a short-lived access token obtained from a refresh token.
type Credential struct {
	// AccessToken is the bearer token for upstream requests
	AccessToken string

	// RefreshToken is the (possibly rotated) refresh token to persist
	RefreshToken string

	// ExpiresAt is when the access token stops being usable
	ExpiresAt time.Time
}

// Valid reports whether the credential can still be presented upstream.
func (c *Credential) Valid(now time.Time) bool {
	return c != nil && c.AccessToken != "" && now.Before(c.ExpiresAt)
}

type tokenResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token,omitempty"`
	ExpiresIn    float64 `json:"expires_in,omitempty"`
	TokenType    string  `json:"token_type,omitempty"`
}

// RefreshCredential exchanges a refresh token for a fresh access token.
// A rejection by the token endpoint (400/401/403) is returned as an
// AuthError so the caller can mark the owning account invalid; transport
// failures come back as NetworkError.
func (c *Client) RefreshCredential(ctx context.Context, refreshToken string) (*Credential, error) {
	form := url.Values{
		"client_id":     {oauthClientID},
		"client_secret": {oauthClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Endpoint: c.tokenURL, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &NetworkError{Endpoint: c.tokenURL, Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		switch resp.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return nil, &AuthError{Message: errorMessage(body)}
		default:
			return nil, &UpstreamError{
				Endpoint:   c.tokenURL,
				StatusCode: resp.StatusCode,
				Message:    errorMessage(body),
			}
		}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, &AuthError{Message: "token endpoint returned no access token"}
	}

	cred := &Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    c.now().Add(time.Duration(tok.ExpiresIn)*time.Second - expirySlack),
	}
	if tok.ExpiresIn <= 0 {
		// No lifetime reported; assume the conventional hour.
		cred.ExpiresAt = c.now().Add(time.Hour - expirySlack)
	}
	return cred, nil
}

package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultAuthorizeURL = "https://github.com/login/oauth/authorize"
	defaultTokenURL     = "https://github.com/login/oauth/access_token"

	// oauthScope grants repository contents access plus the identity
	// fields bound to the local account.
	oauthScope = "repo read:user user:email"
)

// OAuth performs the authorization-code exchange with GitHub.
type OAuth struct {
	clientID     string
	clientSecret string
	redirectURL  string
	authorizeURL string
	tokenURL     string
	httpClient   *http.Client
}

// OAuthConfig configures the OAuth handshake. AuthorizeURL and TokenURL
// default to github.com when empty.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthorizeURL string
	TokenURL     string
}

func NewOAuth(cfg OAuthConfig) *OAuth {
	authorizeURL := cfg.AuthorizeURL
	if authorizeURL == "" {
		authorizeURL = defaultAuthorizeURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	return &OAuth{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		authorizeURL: authorizeURL,
		tokenURL:     tokenURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// AuthorizeURL builds the provider URL the user is redirected to, with the
// one-time state token embedded.
func (o *OAuth) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", o.clientID)
	params.Set("redirect_uri", o.redirectURL)
	params.Set("scope", oauthScope)
	params.Set("state", state)
	return o.authorizeURL + "?" + params.Encode()
}

// ExchangeCode trades an authorization code for a durable access token.
func (o *OAuth) ExchangeCode(ctx context.Context, code string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     o.clientID,
		"client_secret": o.clientSecret,
		"code":          code,
		"redirect_uri":  o.redirectURL,
	})
	if err != nil {
		return "", fmt.Errorf("marshal exchange payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build exchange request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read exchange response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(resp.StatusCode, payload)
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return "", fmt.Errorf("decode exchange response: %w", err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("github: no access token in exchange response")
	}
	return result.AccessToken, nil
}

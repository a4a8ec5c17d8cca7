// Package sso talks to the EVE Online SSO: it builds PKCE authorization URLs,
// exchanges and refreshes tokens, verifies access tokens and revokes them.
// Token traffic goes through golang.org/x/oauth2.
package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/dpleshakov/corpsso/internal/logging"
)

// DefaultBaseURL is the production EVE SSO host.
const DefaultBaseURL = "https://login.eveonline.com"

const (
	authorizePath = "/v2/oauth/authorize"
	tokenPath     = "/v2/oauth/token"
	revokePath    = "/v2/oauth/revoke"
	verifyPath    = "/oauth/verify"
)

// TokenSet is the access/refresh token pair of one ESI session.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Expired reports whether the access token is past its expiry at now.
// A zero expiry never expires.
func (t TokenSet) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && !now.Before(t.Expiry)
}

// Verification is the payload of GET /oauth/verify.
type Verification struct {
	CharacterID   int64
	CharacterName string
	Scopes        []string
	OwnerHash     string
}

type verifyResponse struct {
	CharacterID        int64  `json:"CharacterID"`
	CharacterName      string `json:"CharacterName"`
	Scopes             string `json:"Scopes"`
	CharacterOwnerHash string `json:"CharacterOwnerHash"`
}

// Config describes an EVE SSO application registration.
type Config struct {
	ClientID string
	// ClientSecret is optional. When empty the client acts as a public PKCE
	// client and sends client_id in the form body instead of Basic auth.
	ClientSecret string
	RedirectURL  string
	BaseURL      string
}

// Client is safe for concurrent use. It holds no token state.
type Client struct {
	conf       *oauth2.Config
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

// NewClient constructs a Client. httpClient is used for every SSO call and is
// injected into oauth2 for token requests; nil selects http.DefaultClient.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	style := oauth2.AuthStyleInHeader
	if cfg.ClientSecret == "" {
		style = oauth2.AuthStyleInParams
	}
	return &Client{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + authorizePath,
				TokenURL:  base + tokenPath,
				AuthStyle: style,
			},
		},
		httpClient: httpClient,
		baseURL:    base,
		logger:     logging.OrNop(logger).Named("sso"),
	}
}

// AuthURL builds the authorize URL for this client's registration.
func (c *Client) AuthURL(scopes []string, challenge, state string) string {
	return BuildAuthURL(c.conf.Endpoint.AuthURL, c.conf.ClientID, c.conf.RedirectURL, scopes, challenge, state)
}

// BuildAuthURL returns the SSO authorize URL with response_type=code and an
// S256 code challenge. It is deterministic in its inputs.
func BuildAuthURL(authorizeURL, clientID, redirectURI string, scopes []string, challenge, state string) string {
	conf := oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Scopes:      scopes,
		Endpoint:    oauth2.Endpoint{AuthURL: authorizeURL},
	}
	return conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// ExchangeCode trades an authorization code and its PKCE verifier for tokens.
// A non-2xx answer is returned as *TokenExchangeError.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (TokenSet, error) {
	tok, err := c.conf.Exchange(c.withHTTPClient(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return TokenSet{}, fmt.Errorf("exchanging authorization code: %w", asTokenExchangeError(err))
	}
	c.logger.Debug("authorization code exchanged", zap.Time("expiry", tok.Expiry))
	return fromOAuth2(tok), nil
}

// Refresh obtains a new token set from a refresh token. The old refresh token
// is kept when the server does not rotate it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	src := c.conf.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return TokenSet{}, fmt.Errorf("refreshing token: %w", asTokenExchangeError(err))
	}
	c.logger.Debug("token refreshed", zap.Time("expiry", tok.Expiry))
	return fromOAuth2(tok), nil
}

// Verify resolves the character behind accessToken and the scopes it grants.
func (c *Client) Verify(ctx context.Context, accessToken string) (Verification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+verifyPath, nil)
	if err != nil {
		return Verification{}, fmt.Errorf("building verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Verification{}, fmt.Errorf("calling verify: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Verification{}, fmt.Errorf("verify returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Verification{}, fmt.Errorf("reading verify response: %w", err)
	}

	var v verifyResponse
	if err := json.Unmarshal(body, &v); err != nil {
		return Verification{}, fmt.Errorf("parsing verify response: %w", err)
	}
	if v.CharacterID <= 0 {
		return Verification{}, fmt.Errorf("verify returned invalid CharacterID %d", v.CharacterID)
	}

	return Verification{
		CharacterID:   v.CharacterID,
		CharacterName: v.CharacterName,
		Scopes:        strings.Fields(v.Scopes),
		OwnerHash:     v.CharacterOwnerHash,
	}, nil
}

// Revoke invalidates accessToken at the SSO.
func (c *Client) Revoke(ctx context.Context, accessToken string) error {
	form := url.Values{
		"token_type_hint": {"access_token"},
		"token":           {accessToken},
	}
	if c.conf.ClientSecret == "" {
		form.Set("client_id", c.conf.ClientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+revokePath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.conf.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(c.conf.ClientID), url.QueryEscape(c.conf.ClientSecret))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling revoke: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return &TokenExchangeError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return nil
}

// withHTTPClient makes oauth2 use c.httpClient for the token request.
func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func fromOAuth2(t *oauth2.Token) TokenSet {
	return TokenSet{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

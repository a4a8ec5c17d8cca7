// Package session issues, validates, refreshes and tears down corpsso user
// sessions. It holds no state of its own; callers persist the returned User.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dpleshakov/corpsso/internal/identity"
	"github.com/dpleshakov/corpsso/internal/logging"
	"github.com/dpleshakov/corpsso/internal/roles"
	"github.com/dpleshakov/corpsso/internal/sso"
)

// DefaultTTL is the lifetime of a session from login or refresh.
const DefaultTTL = 24 * time.Hour

// ErrRefreshFailed is returned when an ESI token refresh fails. The session
// returned alongside it has already been torn down.
var ErrRefreshFailed = errors.New("token refresh failed, session ended")

// AuthMethod is how a user proved their identity.
type AuthMethod string

const (
	AuthManual AuthMethod = "manual"
	AuthESI    AuthMethod = "esi"
)

// User is the internal session principal.
type User struct {
	ID              string            `json:"id"`
	Username        string            `json:"username,omitempty"`
	CharacterID     int64             `json:"characterId,omitempty"`
	CharacterName   string            `json:"characterName,omitempty"`
	CorporationID   int64             `json:"corporationId,omitempty"`
	CorporationName string            `json:"corporationName,omitempty"`
	AllianceID      int64             `json:"allianceId,omitempty"`
	AllianceName    string            `json:"allianceName,omitempty"`
	Role            roles.Role        `json:"role"`
	Permissions     roles.Permissions `json:"permissions"`
	AuthMethod      AuthMethod        `json:"authMethod"`
	AccessToken     string            `json:"-"`
	RefreshToken    string            `json:"-"`
	TokenExpiry     time.Time         `json:"tokenExpiry,omitzero"`
	Scopes          []string          `json:"scopes,omitempty"`
	SessionExpiry   time.Time         `json:"sessionExpiry,omitzero"`
	LastLogin       time.Time         `json:"lastLogin,omitzero"`
	IsActive        bool              `json:"isActive"`
	CreatedAt       time.Time         `json:"createdAt,omitzero"`
}

// Tokens returns the user's ESI token set.
func (u User) Tokens() sso.TokenSet {
	return sso.TokenSet{AccessToken: u.AccessToken, RefreshToken: u.RefreshToken, Expiry: u.TokenExpiry}
}

// TokenClient refreshes and revokes ESI tokens.
type TokenClient interface {
	Refresh(ctx context.Context, refreshToken string) (sso.TokenSet, error)
	Revoke(ctx context.Context, accessToken string) error
}

// TokenStore persists the ESI tokens of a user between requests.
type TokenStore interface {
	LoadTokens(ctx context.Context, userID string) (sso.TokenSet, error)
	SaveTokens(ctx context.Context, u User) error
}

// Manager is safe for concurrent use.
type Manager struct {
	tokens  TokenClient
	store   TokenStore
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
	refresh singleflight.Group
}

// NewManager returns a Manager. ttl <= 0 selects DefaultTTL.
func NewManager(tokens TokenClient, ttl time.Duration, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		tokens: tokens,
		ttl:    ttl,
		logger: logging.OrNop(logger).Named("session"),
		now:    time.Now,
	}
}

// SetTokenStore makes RefreshTokens read and write tokens through store. It
// must be called before the Manager is used.
func (m *Manager) SetTokenStore(store TokenStore) {
	m.store = store
}

// Create assembles an ESI user for a freshly validated login.
func (m *Manager) Create(who identity.Character, role roles.Role, tokens sso.TokenSet) User {
	now := m.now()
	return User{
		ID:              uuid.NewString(),
		CharacterID:     who.CharacterID,
		CharacterName:   who.CharacterName,
		CorporationID:   who.CorporationID,
		CorporationName: who.CorporationName,
		AllianceID:      who.AllianceID,
		AllianceName:    who.AllianceName,
		Role:            role,
		Permissions:     roles.PermissionsFor(role),
		AuthMethod:      AuthESI,
		AccessToken:     tokens.AccessToken,
		RefreshToken:    tokens.RefreshToken,
		TokenExpiry:     tokens.Expiry,
		Scopes:          append([]string(nil), who.Scopes...),
		SessionExpiry:   now.Add(m.ttl),
		LastLogin:       now,
		IsActive:        true,
		CreatedAt:       now,
	}
}

// IsValid reports whether u is active and its session has not expired.
func (m *Manager) IsValid(u User) bool {
	return u.IsActive && m.now().Before(u.SessionExpiry)
}

// Refresh extends the session of u. Identity and role are untouched.
func (m *Manager) Refresh(u User) User {
	now := m.now()
	u.LastLogin = now
	u.SessionExpiry = now.Add(m.ttl)
	return u
}

// NeedsTokenRefresh reports whether u is an ESI user whose access token has expired.
func (m *Manager) NeedsTokenRefresh(u User) bool {
	return u.AuthMethod == AuthESI && u.Tokens().Expired(m.now())
}

// RefreshTokens renews the ESI tokens of u. Concurrent calls for the same
// user share one request to the SSO. With a TokenStore, a u that is older
// than the stored tokens gets the stored ones back instead of spending a
// rotated refresh token, and new tokens are saved before the call returns.
// A refusal by the SSO is terminal: the returned User is torn down and the
// error wraps ErrRefreshFailed.
func (m *Manager) RefreshTokens(ctx context.Context, u User) (User, error) {
	if u.RefreshToken == "" {
		return m.Teardown(u), fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	}

	v, err, shared := m.refresh.Do(u.ID, func() (interface{}, error) {
		return m.renew(ctx, u)
	})
	if err != nil {
		return u, err
	}

	r := v.(renewal)
	if r.rejected != nil {
		m.logger.Warn("token refresh failed, ending session",
			zap.String("user_id", u.ID), zap.Int64("character_id", u.CharacterID), zap.Error(r.rejected))
		return m.Teardown(u), fmt.Errorf("%w: %w", ErrRefreshFailed, r.rejected)
	}

	u.AccessToken = r.tokens.AccessToken
	u.RefreshToken = r.tokens.RefreshToken
	u.TokenExpiry = r.tokens.Expiry
	m.logger.Debug("tokens refreshed",
		zap.String("user_id", u.ID), zap.Bool("shared", shared),
		zap.Bool("stored", r.stored), zap.Time("expiry", r.tokens.Expiry))
	return u, nil
}

// renewal is the outcome of one refresh. rejected holds an SSO refusal;
// the error returned next to it is reserved for store failures.
type renewal struct {
	tokens   sso.TokenSet
	stored   bool
	rejected error
}

var errSessionEnded = errors.New("session ended elsewhere")

func (m *Manager) renew(ctx context.Context, u User) (renewal, error) {
	if m.store != nil {
		cur, err := m.store.LoadTokens(ctx, u.ID)
		if err != nil {
			return renewal{}, fmt.Errorf("loading stored tokens: %w", err)
		}
		if cur.RefreshToken == "" {
			return renewal{rejected: errSessionEnded}, nil
		}
		if cur.RefreshToken != u.RefreshToken || cur.Expiry.After(u.TokenExpiry) {
			if !cur.Expired(m.now()) {
				return renewal{tokens: cur, stored: true}, nil
			}
			u.RefreshToken = cur.RefreshToken
		}
	}

	ts, err := m.tokens.Refresh(ctx, u.RefreshToken)
	if err != nil {
		return renewal{rejected: err}, nil
	}
	if m.store != nil {
		u.AccessToken = ts.AccessToken
		u.RefreshToken = ts.RefreshToken
		u.TokenExpiry = ts.Expiry
		if err := m.store.SaveTokens(ctx, u); err != nil {
			return renewal{}, fmt.Errorf("saving refreshed tokens: %w", err)
		}
	}
	return renewal{tokens: ts}, nil
}

// Logout revokes the access token (best-effort) and returns u with its
// session cleared.
func (m *Manager) Logout(ctx context.Context, u User) User {
	if u.AuthMethod == AuthESI && u.AccessToken != "" {
		if err := m.tokens.Revoke(ctx, u.AccessToken); err != nil {
			m.logger.Warn("token revoke failed", zap.String("user_id", u.ID), zap.Error(err))
		}
	}
	return m.Teardown(u)
}

// Teardown clears tokens and session expiry without any network call.
func (m *Manager) Teardown(u User) User {
	u.AccessToken = ""
	u.RefreshToken = ""
	u.TokenExpiry = time.Time{}
	u.SessionExpiry = time.Time{}
	return u
}

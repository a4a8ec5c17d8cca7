// Package auth implements the EVE SSO login flow of corpsso.
// Responsibilities: start a PKCE login, complete it on callback (state check,
// code exchange, identity and role resolution, corporation validation,
// session creation), refresh and revoke tokens.
// Persistence of users and corporations is left to the caller.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dpleshakov/corpsso/internal/corp"
	"github.com/dpleshakov/corpsso/internal/esi"
	"github.com/dpleshakov/corpsso/internal/identity"
	"github.com/dpleshakov/corpsso/internal/logging"
	"github.com/dpleshakov/corpsso/internal/session"
	"github.com/dpleshakov/corpsso/internal/sso"
)

// DefaultStateTTL is how long a pending login stays usable.
const DefaultStateTTL = 5 * time.Minute

// stateRetention is how long an expired pending login is kept so that a late
// callback is reported as expired rather than unknown.
const stateRetention = time.Hour

var (
	ErrStateMismatch      = errors.New("OAuth state mismatch")
	ErrStateExpired       = errors.New("login attempt expired, start again")
	ErrIdentityResolution = errors.New("could not resolve character identity")
)

// AccessDeniedError is returned when the character's corporation may not use
// the service.
type AccessDeniedError struct {
	CorporationID int64
	Reason        string
}

func (e *AccessDeniedError) Error() string {
	return e.Reason
}

// SSOClient is the SSO surface the login flow needs.
type SSOClient interface {
	AuthURL(scopes []string, challenge, state string) string
	ExchangeCode(ctx context.Context, code, verifier string) (sso.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (sso.TokenSet, error)
	Revoke(ctx context.Context, accessToken string) error
	Verify(ctx context.Context, accessToken string) (sso.Verification, error)
}

// Login is the result of a completed callback.
type Login struct {
	User       session.User
	Identity   identity.Character
	EveRoles   []string
	Validation corp.Result
	ScopeType  sso.ScopeType
	Scopes     []string // requested scopes
}

// Service is the login facade. It is safe for concurrent use.
type Service struct {
	sso      SSOClient
	resolver *Resolver
	states   StateStore
	sessions *session.Manager
	stateTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewService wires a Service. stateTTL <= 0 selects DefaultStateTTL.
func NewService(ssoClient SSOClient, esiClient esi.Client, states StateStore, sessions *session.Manager, stateTTL time.Duration, logger *zap.Logger) *Service {
	if stateTTL <= 0 {
		stateTTL = DefaultStateTTL
	}
	logger = logging.OrNop(logger).Named("auth")
	return &Service{
		sso:      ssoClient,
		resolver: NewResolver(ssoClient, esiClient, logger),
		states:   states,
		sessions: sessions,
		stateTTL: stateTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// InitiateLogin creates a pending login for browserKey, replacing any
// previous one, and returns the SSO authorize URL.
func (s *Service) InitiateLogin(ctx context.Context, browserKey string, scopeType sso.ScopeType) (string, error) {
	scopes, err := sso.ScopesFor(scopeType)
	if err != nil {
		return "", err
	}
	state, err := sso.NewState()
	if err != nil {
		return "", err
	}
	pkce := sso.GeneratePKCE()

	st := AuthState{
		State:         state,
		CodeVerifier:  pkce.Verifier,
		CodeChallenge: pkce.Challenge,
		CreatedAt:     s.now(),
		ScopeType:     scopeType,
		Scopes:        scopes,
	}
	if err := s.states.Put(ctx, browserKey, st, s.stateTTL+stateRetention); err != nil {
		return "", fmt.Errorf("saving auth state: %w", err)
	}

	s.logger.Debug("login initiated", zap.String("scope_type", string(scopeType)), zap.Int("scopes", len(scopes)))
	return s.sso.AuthURL(scopes, pkce.Challenge, state), nil
}

// HandleCallback completes the pending login of browserKey. The pending
// state is consumed whatever the outcome. Stages run strictly in order:
// state check, code exchange, identity, roles, validation, session.
//
// On denial the returned Login carries the validation result and the error
// is *AccessDeniedError.
func (s *Service) HandleCallback(ctx context.Context, browserKey, code, state string, registered []corp.Config) (Login, error) {
	pending, ok, err := s.states.Take(ctx, browserKey)
	if err != nil {
		return Login{}, fmt.Errorf("loading auth state: %w", err)
	}
	if !ok || subtle.ConstantTimeCompare([]byte(pending.State), []byte(state)) != 1 {
		s.logger.Warn("callback state mismatch", zap.Bool("pending", ok))
		return Login{}, ErrStateMismatch
	}
	if s.now().Sub(pending.CreatedAt) > s.stateTTL {
		return Login{}, ErrStateExpired
	}

	tokens, err := s.sso.ExchangeCode(ctx, code, pending.CodeVerifier)
	if err != nil {
		return Login{}, err
	}

	who, err := s.resolver.ResolveIdentity(ctx, tokens.AccessToken)
	if err != nil {
		return Login{}, fmt.Errorf("%w: %w", ErrIdentityResolution, err)
	}

	eveRoles := s.resolver.ResolveRoles(ctx, who, tokens.AccessToken)

	login := Login{
		Identity:   who,
		EveRoles:   eveRoles,
		Validation: corp.Validate(who, eveRoles, registered),
		ScopeType:  pending.ScopeType,
		Scopes:     pending.Scopes,
	}
	if !login.Validation.IsValid {
		s.logger.Info("login denied",
			zap.Int64("character_id", who.CharacterID),
			zap.Int64("corporation_id", who.CorporationID))
		if err := s.sso.Revoke(ctx, tokens.AccessToken); err != nil {
			s.logger.Warn("revoking token of denied login failed", zap.Error(err))
		}
		return login, &AccessDeniedError{CorporationID: who.CorporationID, Reason: login.Validation.Reason}
	}

	login.User = s.sessions.Create(who, login.Validation.SuggestedRole, tokens)
	s.logger.Info("login completed",
		zap.Int64("character_id", who.CharacterID),
		zap.Int64("corporation_id", who.CorporationID),
		zap.String("role", string(login.User.Role)),
		zap.Bool("needs_registration", login.Validation.NeedsRegistration()))
	return login, nil
}

// RefreshToken exchanges refreshToken for a new token set.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (sso.TokenSet, error) {
	return s.sso.Refresh(ctx, refreshToken)
}

// RevokeToken revokes accessToken at the SSO.
func (s *Service) RevokeToken(ctx context.Context, accessToken string) error {
	return s.sso.Revoke(ctx, accessToken)
}

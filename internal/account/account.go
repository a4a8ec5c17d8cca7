// Package account persists corpsso users: it records completed ESI logins,
// manages manual accounts and ends sessions.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dpleshakov/corpsso/internal/auth"
	"github.com/dpleshakov/corpsso/internal/corp"
	"github.com/dpleshakov/corpsso/internal/logging"
	"github.com/dpleshakov/corpsso/internal/password"
	"github.com/dpleshakov/corpsso/internal/roles"
	"github.com/dpleshakov/corpsso/internal/session"
	"github.com/dpleshakov/corpsso/internal/sso"
	"github.com/dpleshakov/corpsso/internal/store"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrUserDisabled       = errors.New("user account is disabled")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already exists")
)

// RevokedReason is shown to a management character whose corporation was
// deactivated by an administrator.
const RevokedReason = "Access for your corporation has been revoked. Contact an administrator."

// Service is safe for concurrent use.
type Service struct {
	repo     store.Repository
	registry *corp.Registry
	sessions *session.Manager
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(repo store.Repository, registry *corp.Registry, sessions *session.Manager, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		registry: registry,
		sessions: sessions,
		logger:   logging.OrNop(logger).Named("account"),
		now:      time.Now,
	}
}

// CompleteESILogin registers the corporation when the login requires it and
// stores the user. An existing disabled user stays disabled.
func (s *Service) CompleteESILogin(ctx context.Context, login auth.Login) (session.User, error) {
	who := login.Identity

	if login.Validation.NeedsRegistration() {
		cfg, _, err := s.registry.AutoRegister(ctx, who, login.Scopes)
		if err != nil {
			return session.User{}, err
		}
		if !cfg.IsActive {
			return session.User{}, &auth.AccessDeniedError{CorporationID: who.CorporationID, Reason: RevokedReason}
		}
	}

	existing, err := s.repo.GetUserByCharacterID(ctx, who.CharacterID)
	switch {
	case err == nil && !existing.IsActive:
		return session.User{}, ErrUserDisabled
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return session.User{}, fmt.Errorf("loading user of character %d: %w", who.CharacterID, err)
	}

	u := login.User
	row, err := s.repo.UpsertESIUser(ctx, store.UpsertESIUserParams{
		ID:              u.ID,
		CharacterID:     u.CharacterID,
		CharacterName:   u.CharacterName,
		CorporationID:   u.CorporationID,
		CorporationName: u.CorporationName,
		AllianceID:      sql.NullInt64{Int64: u.AllianceID, Valid: u.AllianceID != 0},
		AllianceName:    u.AllianceName,
		Role:            string(u.Role),
		AccessToken:     u.AccessToken,
		RefreshToken:    u.RefreshToken,
		TokenExpiry:     u.TokenExpiry,
		Scopes:          strings.Join(u.Scopes, " "),
		SessionExpiry:   u.SessionExpiry,
		LastLogin:       u.LastLogin,
		CreatedAt:       u.CreatedAt,
	})
	if err != nil {
		return session.User{}, fmt.Errorf("saving user of character %d: %w", who.CharacterID, err)
	}
	return fromRow(row), nil
}

// ManualLogin checks a username and password and starts a session.
func (s *Service) ManualLogin(ctx context.Context, username, pw string) (session.User, error) {
	row, err := s.repo.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return session.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return session.User{}, fmt.Errorf("loading user %q: %w", username, err)
	}

	ok, err := password.Verify(pw, row.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash is unreadable", zap.String("user_id", row.ID), zap.Error(err))
		return session.User{}, ErrInvalidCredentials
	}
	if !ok {
		return session.User{}, ErrInvalidCredentials
	}
	if !row.IsActive {
		return session.User{}, ErrUserDisabled
	}

	u := s.sessions.Refresh(fromRow(row))
	if err := s.repo.StartManualSession(ctx, store.StartManualSessionParams{
		ID:            u.ID,
		SessionExpiry: u.SessionExpiry,
		LastLogin:     u.LastLogin,
	}); err != nil {
		return session.User{}, fmt.Errorf("starting session for %q: %w", username, err)
	}
	s.logger.Info("manual login", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	return u, nil
}

// AddManualUser creates a username/password account with role.
func (s *Service) AddManualUser(ctx context.Context, username, pw string, role roles.Role) (session.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return session.User{}, fmt.Errorf("username is required")
	}
	if !role.Valid() {
		return session.User{}, fmt.Errorf("unknown role %q", role)
	}
	hash, err := password.Hash(pw)
	if err != nil {
		return session.User{}, err
	}

	id := uuid.NewString()
	created, err := s.repo.InsertManualUserIfAbsent(ctx, store.InsertManualUserParams{
		ID:           id,
		Username:     username,
		PasswordHash: hash,
		Role:         string(role),
		CreatedAt:    s.now(),
	})
	if err != nil {
		return session.User{}, fmt.Errorf("creating user %q: %w", username, err)
	}
	if !created {
		return session.User{}, ErrUsernameTaken
	}
	s.logger.Info("manual user created", zap.String("user_id", id), zap.String("role", string(role)))
	return s.Get(ctx, id)
}

// BootstrapAdmin creates the configured super_admin unless the username
// already exists. It reports whether an account was created.
func (s *Service) BootstrapAdmin(ctx context.Context, username, pw string) (bool, error) {
	_, err := s.AddManualUser(ctx, username, pw, roles.SuperAdmin)
	if errors.Is(err, ErrUsernameTaken) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("bootstrapping admin: %w", err)
	}
	return true, nil
}

// Get loads a user by id.
func (s *Service) Get(ctx context.Context, id string) (session.User, error) {
	row, err := s.repo.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return session.User{}, ErrNotFound
	}
	if err != nil {
		return session.User{}, fmt.Errorf("loading user %s: %w", id, err)
	}
	return fromRow(row), nil
}

// List returns all users. When corporationID is non-zero only that
// corporation's members are returned.
func (s *Service) List(ctx context.Context, corporationID int64) ([]session.User, error) {
	var (
		rows []store.User
		err  error
	)
	if corporationID != 0 {
		rows, err = s.repo.ListUsersByCorporation(ctx, corporationID)
	} else {
		rows, err = s.repo.ListUsers(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	out := make([]session.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// Deactivate disables a user and ends their session.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	err := s.repo.InTx(ctx, func(q store.Querier) error {
		n, err := q.SetUserActive(ctx, id, false)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return q.EndSession(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("deactivating user %s: %w", id, err)
	}
	s.logger.Info("user deactivated", zap.String("user_id", id))
	return nil
}

// SaveTokens persists refreshed ESI tokens and stamps the corporation's
// last token refresh.
// LoadTokens returns the ESI tokens currently stored for the user.
func (s *Service) LoadTokens(ctx context.Context, id string) (sso.TokenSet, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return sso.TokenSet{}, err
	}
	return u.Tokens(), nil
}

func (s *Service) SaveTokens(ctx context.Context, u session.User) error {
	if err := s.repo.UpdateUserTokens(ctx, store.UpdateUserTokensParams{
		ID:           u.ID,
		AccessToken:  u.AccessToken,
		RefreshToken: u.RefreshToken,
		TokenExpiry:  u.TokenExpiry,
	}); err != nil {
		return fmt.Errorf("saving tokens of user %s: %w", u.ID, err)
	}
	if u.CorporationID != 0 {
		if err := s.registry.TouchTokenRefresh(ctx, u.CorporationID, s.now()); err != nil {
			s.logger.Warn("recording corporation token refresh failed", zap.Error(err))
		}
	}
	return nil
}

// EndSession clears the stored session of user id.
func (s *Service) EndSession(ctx context.Context, id string) error {
	if err := s.repo.EndSession(ctx, id); err != nil {
		return fmt.Errorf("ending session of user %s: %w", id, err)
	}
	return nil
}

// ExpireSessions clears every session past its expiry at now.
func (s *Service) ExpireSessions(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.repo.ExpireSessions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expiring sessions: %w", err)
	}
	return n, nil
}

func fromRow(r store.User) session.User {
	role := roles.Role(r.Role)
	u := session.User{
		ID:              r.ID,
		Username:        r.Username.String,
		CharacterID:     r.CharacterID.Int64,
		CharacterName:   r.CharacterName,
		CorporationID:   r.CorporationID.Int64,
		CorporationName: r.CorporationName,
		AllianceID:      r.AllianceID.Int64,
		AllianceName:    r.AllianceName,
		Role:            role,
		Permissions:     roles.PermissionsFor(role),
		AuthMethod:      session.AuthMethod(r.AuthMethod),
		AccessToken:     r.AccessToken,
		RefreshToken:    r.RefreshToken,
		Scopes:          strings.Fields(r.Scopes),
		IsActive:        r.IsActive,
		CreatedAt:       r.CreatedAt,
	}
	if r.TokenExpiry.Valid {
		u.TokenExpiry = r.TokenExpiry.Time
	}
	if r.SessionExpiry.Valid {
		u.SessionExpiry = r.SessionExpiry.Time
	}
	if r.LastLogin.Valid {
		u.LastLogin = r.LastLogin.Time
	}
	return u
}

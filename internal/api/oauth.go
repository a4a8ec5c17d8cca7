package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dpleshakov/corpsso/internal/account"
	"github.com/dpleshakov/corpsso/internal/auth"
	"github.com/dpleshakov/corpsso/internal/session"
	"github.com/dpleshakov/corpsso/internal/sso"
)

type manualLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshResponse struct {
	TokenExpiry time.Time `json:"tokenExpiry"`
}

// Handles:
//
//	GET  /auth/eve/login?scope=basic|enhanced|corporation
//	GET  {callback path}?code=...&state=...
//	POST /auth/login/manual
//	POST /auth/refresh
//	POST /auth/logout
func (r *router) handleLogin(w http.ResponseWriter, req *http.Request) {
	scopeType, err := sso.ParseScopeType(req.URL.Query().Get("scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess := r.cookie(req)
	key := browserKey(sess)

	authURL, err := r.auth.InitiateLogin(req.Context(), key, scopeType)
	if err != nil {
		r.logger.Error("initiating login", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start login")
		return
	}
	if !r.saveCookie(w, req, sess) {
		return
	}
	http.Redirect(w, req, authURL, http.StatusFound)
}

func (r *router) handleCallback(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	q := req.URL.Query()

	if e := q.Get("error"); e != "" {
		writeError(w, http.StatusBadRequest, "login was not completed: "+e)
		return
	}

	sess := r.cookie(req)
	key, _ := sess.Values[valBrowserKey].(string)
	if key == "" {
		writeLoginError(w, auth.ErrStateMismatch)
		return
	}

	registered, err := r.registry.ListActive(ctx)
	if err != nil {
		r.logger.Error("loading registered corporations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load corporations")
		return
	}

	login, err := r.auth.HandleCallback(ctx, key, q.Get("code"), q.Get("state"), registered)
	if err != nil {
		r.logLoginError(err)
		writeLoginError(w, err)
		return
	}

	u, err := r.accounts.CompleteESILogin(ctx, login)
	if err != nil {
		r.sessions.Logout(ctx, login.User)
		r.logLoginError(err)
		writeLoginError(w, err)
		return
	}

	sess.Values[valUserID] = u.ID
	if !r.saveCookie(w, req, sess) {
		return
	}
	http.Redirect(w, req, "/", http.StatusFound)
}

func (r *router) handleManualLogin(w http.ResponseWriter, req *http.Request) {
	var body manualLoginRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	u, err := r.accounts.ManualLogin(req.Context(), body.Username, body.Password)
	if err != nil {
		writeLoginError(w, err)
		return
	}

	sess := r.cookie(req)
	sess.Values[valUserID] = u.ID
	if !r.saveCookie(w, req, sess) {
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (r *router) handleRefresh(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	u, ok := r.sessionUser(w, req)
	if !ok {
		return
	}
	if u.AuthMethod != session.AuthESI {
		writeError(w, http.StatusBadRequest, "session has no ESI tokens")
		return
	}

	u, err := r.refreshTokens(ctx, u)
	if errors.Is(err, session.ErrRefreshFailed) {
		r.forgetUser(w, req)
		writeError(w, http.StatusUnauthorized, "session ended, log in again")
		return
	}
	if err != nil {
		r.logger.Error("saving refreshed tokens", zap.String("user_id", u.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to refresh session")
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{TokenExpiry: u.TokenExpiry})
}

func (r *router) handleLogout(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	sess := r.cookie(req)

	if id, _ := sess.Values[valUserID].(string); id != "" {
		if u, err := r.accounts.Get(ctx, id); err == nil {
			r.sessions.Logout(ctx, u)
		}
		if err := r.accounts.EndSession(ctx, id); err != nil {
			r.logger.Error("ending session on logout", zap.String("user_id", id), zap.Error(err))
		}
	}

	sess.Values = map[interface{}]interface{}{}
	sess.Options.MaxAge = -1
	if !r.saveCookie(w, req, sess) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sessionUser loads the valid session principal or writes 401.
func (r *router) sessionUser(w http.ResponseWriter, req *http.Request) (session.User, bool) {
	id, _ := r.cookie(req).Values[valUserID].(string)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return session.User{}, false
	}
	u, err := r.accounts.Get(req.Context(), id)
	if err != nil || !r.sessions.IsValid(u) {
		writeError(w, http.StatusUnauthorized, "session expired")
		return session.User{}, false
	}
	return u, true
}

func (r *router) logLoginError(err error) {
	var denied *auth.AccessDeniedError
	switch {
	case errors.As(err, &denied):
		r.logger.Info("login denied", zap.Int64("corporation_id", denied.CorporationID))
	case errors.Is(err, auth.ErrStateMismatch), errors.Is(err, auth.ErrStateExpired):
		r.logger.Warn("login callback rejected", zap.Error(err))
	default:
		r.logger.Error("login failed", zap.Error(err))
	}
}

// writeLoginError maps login failures to HTTP statuses.
func writeLoginError(w http.ResponseWriter, err error) {
	var (
		denied   *auth.AccessDeniedError
		exchange *sso.TokenExchangeError
	)
	switch {
	case errors.Is(err, auth.ErrStateMismatch):
		writeError(w, http.StatusBadRequest, "invalid login state, start again")
	case errors.Is(err, auth.ErrStateExpired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &exchange):
		writeError(w, http.StatusBadGateway, "EVE SSO rejected the login: "+exchange.Message)
	case errors.Is(err, auth.ErrIdentityResolution):
		writeError(w, http.StatusBadGateway, auth.ErrIdentityResolution.Error())
	case errors.As(err, &denied):
		writeError(w, http.StatusForbidden, denied.Reason)
	case errors.Is(err, account.ErrUserDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, account.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "login failed")
	}
}

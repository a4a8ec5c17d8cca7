package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"github.com/dpleshakov/corpsso/internal/session"
)

const (
	cookieName    = "corpsso"
	valBrowserKey = "browser_key"
	valUserID     = "user_id"
)

// NewCookieStore returns the signed cookie store holding the browser key and
// the logged-in user id. maxAge should match the server-side session TTL.
func NewCookieStore(secret []byte, secure bool, maxAge time.Duration) *sessions.CookieStore {
	s := sessions.NewCookieStore(secret)
	s.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return s
}

// cookie returns the request's session cookie. A cookie that fails to decode
// (rotated secret, tampering) is replaced by a fresh one.
func (r *router) cookie(req *http.Request) *sessions.Session {
	sess, err := r.cookies.Get(req, cookieName)
	if err != nil {
		r.logger.Debug("discarding unreadable session cookie", zap.Error(err))
	}
	return sess
}

// browserKey returns the key binding a pending login to this browser,
// creating one when absent. The caller must save sess.
func browserKey(sess *sessions.Session) string {
	if k, ok := sess.Values[valBrowserKey].(string); ok && k != "" {
		return k
	}
	k := uuid.NewString()
	sess.Values[valBrowserKey] = k
	return k
}

func (r *router) saveCookie(w http.ResponseWriter, req *http.Request, sess *sessions.Session) bool {
	if err := sess.Save(req, w); err != nil {
		r.logger.Error("saving session cookie", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save session")
		return false
	}
	return true
}

// forgetUser drops the user id from the cookie. The browser key stays.
func (r *router) forgetUser(w http.ResponseWriter, req *http.Request) {
	sess := r.cookie(req)
	delete(sess.Values, valUserID)
	if err := sess.Save(req, w); err != nil {
		r.logger.Warn("clearing session cookie", zap.Error(err))
	}
}

// refreshTokens renews the ESI tokens of u. The session manager persists
// them through the account service. When the SSO refuses, the stored
// session is ended and the error wraps session.ErrRefreshFailed.
func (r *router) refreshTokens(ctx context.Context, u session.User) (session.User, error) {
	nu, err := r.sessions.RefreshTokens(ctx, u)
	if errors.Is(err, session.ErrRefreshFailed) {
		if endErr := r.accounts.EndSession(ctx, u.ID); endErr != nil {
			r.logger.Error("ending session after failed refresh", zap.String("user_id", u.ID), zap.Error(endErr))
		}
	}
	return nu, err
}

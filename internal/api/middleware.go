package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dpleshakov/corpsso/internal/account"
	"github.com/dpleshakov/corpsso/internal/roles"
	"github.com/dpleshakov/corpsso/internal/session"
)

// accessLog writes one structured line per request.
func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("remote", r.RemoteAddr))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// rateLimiter enforces a per-client-IP request budget.
type rateLimiter struct {
	limit   rate.Limit
	burst   int
	window  time.Duration
	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter returns nil when requestsPerMinute <= 0; a nil limiter
// lets everything through.
func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   burst,
		window:  5 * time.Minute,
		clients: make(map[string]*clientLimiter),
	}
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.get(clientIP(r)).Allow() {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many requests, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *rateLimiter) get(key string) *rate.Limiter {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.clients[key]; ok {
		c.lastSeen = now
		return c.limiter
	}

	lim := rate.NewLimiter(l.limit, l.burst)
	l.clients[key] = &clientLimiter{limiter: lim, lastSeen: now}
	for k, c := range l.clients {
		if now.Sub(c.lastSeen) > l.window {
			delete(l.clients, k)
		}
	}
	return lim
}

// clientIP strips the port from RemoteAddr. middleware.RealIP has already
// applied any X-Forwarded-For / X-Real-IP header.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type ctxKey int

const userKey ctxKey = iota

func userFrom(ctx context.Context) session.User {
	u, _ := ctx.Value(userKey).(session.User)
	return u
}

// requireUser loads the session principal from the cookie. Requests without
// a valid session get 401. An expired ESI access token is refreshed first;
// a failed refresh ends the session.
func (r *router) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		sess := r.cookie(req)
		id, _ := sess.Values[valUserID].(string)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "not logged in")
			return
		}

		u, err := r.accounts.Get(ctx, id)
		if errors.Is(err, account.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "not logged in")
			return
		}
		if err != nil {
			r.logger.Error("loading session user", zap.String("user_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load session")
			return
		}
		if !r.sessions.IsValid(u) {
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		}

		if r.sessions.NeedsTokenRefresh(u) {
			u, err = r.refreshTokens(ctx, u)
			if errors.Is(err, session.ErrRefreshFailed) {
				r.forgetUser(w, req)
				writeError(w, http.StatusUnauthorized, "session ended, log in again")
				return
			}
			if err != nil {
				r.logger.Error("saving refreshed tokens", zap.String("user_id", id), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to refresh session")
				return
			}
		}

		next.ServeHTTP(w, req.WithContext(context.WithValue(ctx, userKey, u)))
	})
}

// requirePermission returns 403 unless allow accepts the current user's
// permissions. It must run after requireUser.
func requirePermission(allow func(roles.Permissions) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !allow(userFrom(req.Context()).Permissions) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func canManageCorporations(p roles.Permissions) bool { return p.ManageSystem || p.ManageCorp }
func canViewMembers(p roles.Permissions) bool        { return p.ViewAllMembers }
func canManageUsers(p roles.Permissions) bool        { return p.ManageUsers }
func canManageSystem(p roles.Permissions) bool       { return p.ManageSystem }

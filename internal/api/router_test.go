package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// testFS builds a minimal in-memory FS that mimics the embedded frontend dist.
func testFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":    {Data: []byte("<html>app</html>")},
		"assets/app.js": {Data: []byte("// js")},
	}
}

func staticRouter() http.Handler {
	return NewRouter(Options{
		Cookies: NewCookieStore([]byte(testCookieSecret), false, time.Hour),
		WebRoot: testFS(),
	})
}

// --- jsonContentType middleware ---

func TestJSONContentType(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := jsonContentType(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want %q", got, "application/json")
	}
}

// --- CORS middleware ---

func TestCORSMiddleware_SetsHeaders(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := corsMiddleware(next)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestCORSMiddleware_Options(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Should not be called for OPTIONS.
		w.WriteHeader(http.StatusOK)
	})
	handler := corsMiddleware(next)

	req := httptest.NewRequest(http.MethodOptions, "/api/me", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("OPTIONS: expected 204, got %d", rr.Code)
	}
}

// --- Panic recovery ---

func TestPanicRecovery(t *testing.T) {
	// NewRouter installs middleware.Recoverer ahead of every handler.
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("panic: expected 500, got %d", rr.Code)
	}
}

// --- Assembled router: Content-Type on /api routes ---

func TestRouter_APIContentType(t *testing.T) {
	mux := staticRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("/api/me Content-Type = %q, want application/json", got)
	}
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("/api/me without cookie: expected 401, got %d", rr.Code)
	}
}

// --- Assembled router: static file serving ---

func TestRouter_StaticKnownFile(t *testing.T) {
	mux := staticRouter()

	req := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("GET /assets/app.js: expected 200, got %d", rr.Code)
	}
}

func TestRouter_SPAFallback(t *testing.T) {
	mux := staticRouter()

	// /some/spa/route does not exist as a file â†’ must return index.html.
	req := httptest.NewRequest(http.MethodGet, "/some/spa/route", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("SPA fallback: expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<html>app</html>") {
		t.Errorf("SPA fallback: expected index.html content, got %q", rr.Body.String())
	}
}

func TestRouter_IndexHTML(t *testing.T) {
	mux := staticRouter()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("GET /: expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<html>app</html>") {
		t.Errorf("GET /: expected index.html content, got %q", rr.Body.String())
	}
}

func TestRouter_NoWebRoot(t *testing.T) {
	mux := NewRouter(Options{Cookies: NewCookieStore([]byte(testCookieSecret), false, time.Hour)})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("GET / without web root: expected 404, got %d", rr.Code)
	}
}

// --- Rate limiter ---

func TestRateLimiter_Nil(t *testing.T) {
	if l := newRateLimiter(0); l != nil {
		t.Fatalf("newRateLimiter(0) = %v, want nil", l)
	}
	var l *rateLimiter
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		l.middleware(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/eve/login", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	l := newRateLimiter(1) // burst of one
	handler := l.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/auth/eve/login", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if got := do("10.0.0.1:1234"); got != http.StatusOK {
		t.Errorf("first request: expected 200, got %d", got)
	}
	if got := do("10.0.0.1:5678"); got != http.StatusTooManyRequests {
		t.Errorf("second request same IP: expected 429, got %d", got)
	}
	if got := do("10.0.0.2:1234"); got != http.StatusOK {
		t.Errorf("other IP: expected 200, got %d", got)
	}
}

func TestRouter_AssetCacheHeaders(t *testing.T) {
	mux := staticRouter()

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))
	if got := rr.Header().Get("Cache-Control"); !strings.Contains(got, "immutable") {
		t.Errorf("asset Cache-Control = %q, want immutable", got)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	if got := rr.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("index Cache-Control = %q, want no-cache", got)
	}
}

func TestSPAHandler_MissingIndex(t *testing.T) {
	h := newSPAHandler(fstest.MapFS{"assets/app.js": {Data: []byte("// js")}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/somewhere", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 without index.html, got %d", rr.Code)
	}
}

func TestSPAHandler_RejectsPost(t *testing.T) {
	h := newSPAHandler(testFS())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

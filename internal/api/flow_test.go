package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpleshakov/corpsso/internal/account"
	"github.com/dpleshakov/corpsso/internal/auth"
	"github.com/dpleshakov/corpsso/internal/corp"
	"github.com/dpleshakov/corpsso/internal/db"
	"github.com/dpleshakov/corpsso/internal/esi"
	"github.com/dpleshakov/corpsso/internal/session"
	"github.com/dpleshakov/corpsso/internal/sso"
	"github.com/dpleshakov/corpsso/internal/store"
)

const (
	testCookieSecret = "0123456789abcdef0123456789abcdef"
	testCharID       = 90000001
	testCorpID       = 98000001
	adminUser        = "admin"
	adminPassword    = "correct horse battery"
)

// fakeEVE serves the SSO and ESI endpoints a login touches.
type fakeEVE struct {
	mu            sync.Mutex
	roles         []string
	expiresIn     int
	refreshStatus int
	revoked       []string
}

func (f *fakeEVE) set(fn func(f *fakeEVE)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeEVE) revokedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revoked...)
}

func (f *fakeEVE) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		f.mu.Lock()
		status, expiresIn := f.refreshStatus, f.expiresIn
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("grant_type") == "refresh_token" && status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid refresh token"}`))
			return
		}
		_, _ = fmt.Fprintf(w, `{"access_token":"acc","refresh_token":"ref","token_type":"Bearer","expires_in":%d}`, expiresIn)
	})
	mux.HandleFunc("/oauth/verify", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"CharacterID":   testCharID,
			"CharacterName": "Test Pilot",
			"Scopes":        "publicData esi-characters.read_corporation_roles.v1",
		})
	})
	mux.HandleFunc("/v2/oauth/revoke", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.revoked = append(f.revoked, r.PostForm.Get("token"))
		f.mu.Unlock()
	})
	mux.HandleFunc("/characters/90000001/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"Test Pilot","corporation_id":98000001}`))
	})
	mux.HandleFunc("/characters/90000001/roles/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"roles": f.roles})
	})
	mux.HandleFunc("/corporations/98000001/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"Test Corp","ticker":"TEST","ceo_id":1}`))
	})
	return mux
}

type countingSweeper struct {
	mu sync.Mutex
	n  int
}

func (s *countingSweeper) ForceSweep() {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
}

func (s *countingSweeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

type env struct {
	srv      *httptest.Server
	fake     *fakeEVE
	accounts *account.Service
	registry *corp.Registry
	sweeper  *countingSweeper
}

func newEnv(t *testing.T, requestsPerMinute int) *env {
	t.Helper()
	fake := &fakeEVE{roles: []string{}, expiresIn: 1199}
	eve := httptest.NewServer(fake.handler(t))
	t.Cleanup(eve.Close)

	conn, err := db.Open(filepath.Join(t.TempDir(), "api.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	repo := store.NewStore(conn)

	ssoClient := sso.NewClient(sso.Config{
		ClientID:    "cid",
		RedirectURL: "http://localhost/auth/eve/callback",
		BaseURL:     eve.URL,
	}, eve.Client(), nil)
	esiClient := esi.NewClient(eve.Client(), eve.URL, nil)
	sessions := session.NewManager(ssoClient, time.Hour, nil)
	registry := corp.NewRegistry(repo, nil)
	accounts := account.NewService(repo, registry, sessions, nil)
	sessions.SetTokenStore(accounts)
	sweeper := &countingSweeper{}

	_, err = accounts.BootstrapAdmin(t.Context(), adminUser, adminPassword)
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(Options{
		Auth:              auth.NewService(ssoClient, esiClient, auth.NewMemoryStateStore(), sessions, 0, nil),
		Accounts:          accounts,
		Registry:          registry,
		Sessions:          sessions,
		Cookies:           NewCookieStore([]byte(testCookieSecret), false, time.Hour),
		CallbackPath:      "/auth/eve/callback",
		RequestsPerMinute: requestsPerMinute,
		Sweeper:           sweeper,
	}))
	t.Cleanup(srv.Close)

	return &env{srv: srv, fake: fake, accounts: accounts, registry: registry, sweeper: sweeper}
}

// browser is one cookie jar talking to the API.
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (e *env) browser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:    t,
		base: e.srv.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) do(method, path, body string) (*http.Response, []byte) {
	b.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, b.base+path, rd)
	require.NoError(b.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp, data
}

// startLogin follows /auth/eve/login and returns the SSO authorize query.
func (b *browser) startLogin(scope string) url.Values {
	b.t.Helper()
	resp, _ := b.do(http.MethodGet, "/auth/eve/login?scope="+scope, "")
	require.Equal(b.t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(b.t, err)
	return loc.Query()
}

// eveLogin runs a full EVE login and returns the callback response.
func (b *browser) eveLogin() (*http.Response, []byte) {
	b.t.Helper()
	q := b.startLogin("basic")
	return b.do(http.MethodGet, "/auth/eve/callback?code=authcode&state="+url.QueryEscape(q.Get("state")), "")
}

func (b *browser) manualLogin(username, password string) *http.Response {
	b.t.Helper()
	resp, _ := b.do(http.MethodPost, "/auth/login/manual",
		fmt.Sprintf(`{"username":%q,"password":%q}`, username, password))
	return resp
}

func (b *browser) me() (int, map[string]any) {
	b.t.Helper()
	resp, data := b.do(http.MethodGet, "/api/me", "")
	var got map[string]any
	if resp.StatusCode == http.StatusOK {
		require.NoError(b.t, json.Unmarshal(data, &got))
	}
	return resp.StatusCode, got
}

func (e *env) registerTestCorp(t *testing.T) {
	t.Helper()
	_, err := e.registry.Register(t.Context(), testCorpID, "Test Corp", []string{"publicData"})
	require.NoError(t, err)
}

func TestLogin_RedirectsToSSOWithPKCE(t *testing.T) {
	e := newEnv(t, 0)
	q := e.browser(t).startLogin("corporation")

	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Len(t, q.Get("state"), 32)
	assert.Contains(t, q.Get("scope"), "esi-wallet.read_corporation_wallets.v1")
}

func TestLogin_UnknownScope(t *testing.T) {
	e := newEnv(t, 0)
	resp, _ := e.browser(t).do(http.MethodGet, "/auth/eve/login?scope=godmode", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCallback_DirectorAutoRegisters(t *testing.T) {
	e := newEnv(t, 0)
	e.fake.set(func(f *fakeEVE) { f.roles = []string{"Director"} })
	b := e.browser(t)

	resp, _ := b.eveLogin()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	status, me := b.me()
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "corp_admin", me["role"])
	assert.EqualValues(t, testCharID, me["characterId"])
	assert.Equal(t, "Test Corp", me["corporationName"])
	assert.NotContains(t, me, "accessToken")

	cfg, err := e.registry.Get(t.Context(), testCorpID)
	require.NoError(t, err)
	assert.True(t, cfg.AutoRegistered)
	assert.True(t, cfg.IsActive)
}

func TestCallback_UnregisteredMemberDenied(t *testing.T) {
	e := newEnv(t, 0)
	b := e.browser(t)

	resp, body := b.eveLogin()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), "not registered")
	assert.Equal(t, []string{"acc"}, e.fake.revokedTokens())

	status, _ := b.me()
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestCallback_StateMismatch(t *testing.T) {
	e := newEnv(t, 0)
	e.registerTestCorp(t)
	b := e.browser(t)
	b.startLogin("basic")

	resp, _ := b.do(http.MethodGet, "/auth/eve/callback?code=authcode&state=forged", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCallback_NoBrowserCookie(t *testing.T) {
	e := newEnv(t, 0)
	q := e.browser(t).startLogin("basic")

	// A different browser presenting a valid state is rejected.
	resp, _ := e.browser(t).do(http.MethodGet, "/auth/eve/callback?code=authcode&state="+q.Get("state"), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCallback_SSOErrorParam(t *testing.T) {
	e := newEnv(t, 0)
	resp, _ := e.browser(t).do(http.MethodGet, "/auth/eve/callback?error=access_denied", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogout_RevokesAndEndsSession(t *testing.T) {
	e := newEnv(t, 0)
	e.registerTestCorp(t)
	b := e.browser(t)

	resp, _ := b.eveLogin()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	status, _ := b.me()
	require.Equal(t, http.StatusOK, status)

	resp, _ = b.do(http.MethodPost, "/auth/logout", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"acc"}, e.fake.revokedTokens())

	status, _ = b.me()
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestMe_ExpiredTokenIsRefreshed(t *testing.T) {
	e := newEnv(t, 0)
	e.registerTestCorp(t)
	e.fake.set(func(f *fakeEVE) { f.expiresIn = -60 })
	b := e.browser(t)

	resp, _ := b.eveLogin()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	e.fake.set(func(f *fakeEVE) { f.expiresIn = 1199 })
	status, me := b.me()
	require.Equal(t, http.StatusOK, status)

	u, err := e.accounts.Get(t.Context(), me["id"].(string))
	require.NoError(t, err)
	assert.True(t, u.TokenExpiry.After(time.Now()))

	cfg, err := e.registry.Get(t.Context(), testCorpID)
	require.NoError(t, err)
	assert.False(t, cfg.LastTokenRefresh.IsZero())
}

func TestMe_RefreshFailureEndsSession(t *testing.T) {
	e := newEnv(t, 0)
	e.registerTestCorp(t)
	e.fake.set(func(f *fakeEVE) { f.expiresIn = -60 })
	b := e.browser(t)

	resp, _ := b.eveLogin()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	e.fake.set(func(f *fakeEVE) { f.refreshStatus = http.StatusBadRequest })
	status, _ := b.me()
	assert.Equal(t, http.StatusUnauthorized, status)

	users, err := e.accounts.List(t.Context(), testCorpID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Empty(t, users[0].AccessToken)
	assert.Empty(t, users[0].RefreshToken)
	assert.True(t, users[0].SessionExpiry.IsZero())

	// Even with a working SSO again the session stays gone.
	e.fake.set(func(f *fakeEVE) { f.refreshStatus = 0 })
	status, _ = b.me()
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRefresh_ESIUser(t *testing.T) {
	e := newEnv(t, 0)
	e.registerTestCorp(t)
	b := e.browser(t)
	resp, _ := b.eveLogin()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	resp, body := b.do(http.MethodPost, "/auth/refresh", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tokenExpiry")
}

func TestRefresh_ManualUserRejected(t *testing.T) {
	e := newEnv(t, 0)
	b := e.browser(t)
	require.Equal(t, http.StatusOK, b.manualLogin(adminUser, adminPassword).StatusCode)

	resp, _ := b.do(http.MethodPost, "/auth/refresh", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestManualLogin(t *testing.T) {
	e := newEnv(t, 0)

	t.Run("wrong password", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, e.browser(t).manualLogin(adminUser, "not the password").StatusCode)
	})
	t.Run("unknown user", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, e.browser(t).manualLogin("nobody", adminPassword).StatusCode)
	})
	t.Run("missing fields", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, e.browser(t).manualLogin(adminUser, "").StatusCode)
	})
	t.Run("super admin", func(t *testing.T) {
		b := e.browser(t)
		require.Equal(t, http.StatusOK, b.manualLogin(adminUser, adminPassword).StatusCode)
		status, me := b.me()
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "super_admin", me["role"])
		assert.Equal(t, "manual", me["authMethod"])
	})
}

func TestCorporations_MemberForbidden(t *testing.T) {
	e := newEnv(t, 0)
	e.registerTestCorp(t)
	b := e.browser(t)
	resp, _ := b.eveLogin()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	resp, _ = b.do(http.MethodGet, "/api/corporations", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = b.do(http.MethodGet, "/api/users", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCorporations_RegisterAndList(t *testing.T) {
	e := newEnv(t, 0)
	admin := e.browser(t)
	require.Equal(t, http.StatusOK, admin.manualLogin(adminUser, adminPassword).StatusCode)

	resp, _ := admin.do(http.MethodPost, "/api/corporations", `{"corporationId":98000001,"corporationName":"Test Corp","scopeType":"enhanced"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = admin.do(http.MethodPost, "/api/corporations", `{"corporationId":0,"corporationName":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := admin.do(http.MethodGet, "/api/corporations", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got []corp.Config
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Test Corp", got[0].CorporationName)
	assert.Contains(t, got[0].RegisteredScopes, "esi-assets.read_assets.v1")
	assert.False(t, got[0].AutoRegistered)

	// A member of the freshly registered corporation can now log in.
	resp, _ = e.browser(t).eveLogin()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestCorporations_DeactivateEndsMemberSessions(t *testing.T) {
	e := newEnv(t, 0)
	e.registerTestCorp(t)

	member := e.browser(t)
	resp, _ := member.eveLogin()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	admin := e.browser(t)
	require.Equal(t, http.StatusOK, admin.manualLogin(adminUser, adminPassword).StatusCode)

	resp, body := admin.do(http.MethodDelete, "/api/corporations/98000001", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"sessionsEnded":1}`, string(body))

	status, _ := member.me()
	assert.Equal(t, http.StatusUnauthorized, status)

	resp, _ = member.eveLogin()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = admin.do(http.MethodPost, "/api/corporations/98000001/activate", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = member.eveLogin()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestCorporations_UnknownID(t *testing.T) {
	e := newEnv(t, 0)
	admin := e.browser(t)
	require.Equal(t, http.StatusOK, admin.manualLogin(adminUser, adminPassword).StatusCode)

	resp, _ := admin.do(http.MethodDelete, "/api/corporations/12345", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = admin.do(http.MethodPost, "/api/corporations/abc/activate", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUsers_ListAndDeactivate(t *testing.T) {
	e := newEnv(t, 0)
	e.registerTestCorp(t)

	member := e.browser(t)
	resp, _ := member.eveLogin()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	_, me := member.me()
	memberID := me["id"].(string)

	admin := e.browser(t)
	require.Equal(t, http.StatusOK, admin.manualLogin(adminUser, adminPassword).StatusCode)
	_, adminMe := admin.me()

	resp, body := admin.do(http.MethodGet, "/api/users?corporation=98000001", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var users []map[string]any
	require.NoError(t, json.Unmarshal(body, &users))
	require.Len(t, users, 1)
	assert.Equal(t, memberID, users[0]["id"])

	resp, _ = admin.do(http.MethodDelete, "/api/users/"+adminMe["id"].(string), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = admin.do(http.MethodDelete, "/api/users/"+memberID, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	status, _ := member.me()
	assert.Equal(t, http.StatusUnauthorized, status)

	// A disabled user cannot log back in through EVE.
	resp, _ = member.eveLogin()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = admin.do(http.MethodDelete, "/api/users/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSweep_ForceSignal(t *testing.T) {
	e := newEnv(t, 0)
	admin := e.browser(t)
	require.Equal(t, http.StatusOK, admin.manualLogin(adminUser, adminPassword).StatusCode)

	resp, _ := admin.do(http.MethodPost, "/api/sweep", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, e.sweeper.count())
}

func TestRateLimit_AuthRoutesOnly(t *testing.T) {
	e := newEnv(t, 1)
	b := e.browser(t)

	resp, _ := b.do(http.MethodGet, "/auth/eve/login", "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	resp, _ = b.do(http.MethodGet, "/auth/eve/login", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// /api is not throttled.
	for i := 0; i < 3; i++ {
		resp, _ = b.do(http.MethodGet, "/api/me", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

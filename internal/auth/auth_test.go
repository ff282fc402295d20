package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ignite/messaging/internal/config"
	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/repository/memory"
)

func members() *memory.Store {
	s := memory.NewStore()
	s.AddMember("t1", "a@x.com", domain.RoleMember)
	s.AddMember("t2", "a@x.com", domain.RoleMember)
	s.AddMember("t1", "boss@x.com", domain.RoleAdmin)
	return s
}

func TestResolver(t *testing.T) {
	r := NewResolver(members(), []string{"Ops@X.com"})
	ctx := t.Context()

	p, err := r.Resolve(ctx, " A@x.com ")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", p.Email)
	assert.Equal(t, domain.RoleMember, p.Role)
	assert.Equal(t, []string{"t1", "t2"}, p.TenantIDs)

	p, _ = r.Resolve(ctx, "boss@x.com")
	assert.True(t, p.IsAdmin())

	p, _ = r.Resolve(ctx, "ops@x.com")
	assert.True(t, p.IsAdmin(), "configured admin")
	assert.Empty(t, p.TenantIDs)
}

func TestHeaderGate(t *testing.T) {
	g := NewHeaderGate(NewResolver(members(), nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := g.Authorize(req)
	assert.False(t, ok)

	req.Header.Set(HeaderEmail, "a@x.com")
	p, ok := g.Authorize(req)
	require.True(t, ok)
	assert.Equal(t, []string{"t1", "t2"}, p.TenantIDs)

	req.Header.Set(HeaderTenants, "t9, t8")
	req.Header.Set(HeaderRole, "Admin")
	p, ok = g.Authorize(req)
	require.True(t, ok)
	assert.Equal(t, []string{"t9", "t8"}, p.TenantIDs)
	assert.True(t, p.IsAdmin())
}

func TestMiddleware(t *testing.T) {
	g := NewHeaderGate(NewResolver(members(), nil))
	var got domain.Principal
	h := Middleware(g)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderEmail, "a@x.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a@x.com", got.Email)
}

func newGate(t *testing.T, google *httptest.Server) *SessionGate {
	t.Helper()
	g := NewSessionGate(config.AuthConfig{
		GoogleClientID:     "client",
		GoogleClientSecret: "secret",
		AllowedDomain:      "x.com",
		BaseURL:            "http://app.test",
		CookieName:         "messaging_session",
		CookieMaxAge:       3600,
	}, NewResolver(members(), nil))
	if google != nil {
		g.oauth2Config.Endpoint = oauth2.Endpoint{AuthURL: google.URL + "/auth", TokenURL: google.URL + "/token"}
		g.userInfoURL = google.URL + "/userinfo"
	}
	return g
}

func fakeGoogle(t *testing.T, info GoogleUserInfo) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "token_type": "Bearer", "expires_in": 3600})
		case "/userinfo":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(info)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func callback(g *SessionGate, state, cookieState string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state="+url.QueryEscape(state), nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: cookieState})
	rec := httptest.NewRecorder()
	g.HandleCallback(rec, req)
	return rec
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "messaging_session" {
			return c
		}
	}
	return nil
}

func TestSessionGate_LoginFlow(t *testing.T) {
	google := fakeGoogle(t, GoogleUserInfo{ID: "1", Email: "A@x.com", VerifiedEmail: true, Name: "A"})
	g := newGate(t, google)

	rec := httptest.NewRecorder()
	g.HandleLogin(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "x.com", loc.Query().Get("hd"))
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	rec = callback(g, state, state)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/inbox", nil)
	req.AddCookie(cookie)
	p, ok := g.Authorize(req)
	require.True(t, ok)
	assert.Equal(t, "a@x.com", p.Email)
	assert.Equal(t, []string{"t1", "t2"}, p.TenantIDs)

	rec = httptest.NewRecorder()
	g.HandleLogout(rec, req)
	_, ok = g.Authorize(req)
	assert.False(t, ok)
}

func TestSessionGate_RejectsForeignDomainAndBadState(t *testing.T) {
	google := fakeGoogle(t, GoogleUserInfo{Email: "eve@evil.com", VerifiedEmail: true})
	g := newGate(t, google)

	rec := callback(g, "s1", "s2")
	assert.Contains(t, rec.Header().Get("Location"), "invalid_state")

	rec = callback(g, "s1", "s1")
	assert.Contains(t, rec.Header().Get("Location"), "domain_not_allowed")
	assert.Nil(t, sessionCookie(rec))
}

func TestSessionGate_Expiry(t *testing.T) {
	g := newGate(t, nil)
	now := time.Now()
	g.now = func() time.Time { return now }
	id, err := g.createSession("a@x.com", "A")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "messaging_session", Value: id})
	_, ok := g.Authorize(req)
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	g.sweep()
	_, ok = g.Authorize(req)
	assert.False(t, ok)
}

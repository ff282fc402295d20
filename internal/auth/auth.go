// Package auth resolves the caller of an API request into a Principal:
// e-mail, role and the set of tenants it may act in.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/ignite/messaging/internal/config"
	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/pkg/httputil"
	"github.com/ignite/messaging/internal/pkg/logger"
)

var log = logger.Named("auth")

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleUserInfo represents the user info returned by Google
type GoogleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	HD            string `json:"hd"` // Hosted domain (GSuite domain)
}

// Session represents an authenticated user session
type Session struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionGate authenticates with Google OAuth and keeps sessions in
// memory. Authorize resolves the session's address through the membership
// source on every request so role and tenant changes apply immediately.
type SessionGate struct {
	config       config.AuthConfig
	oauth2Config *oauth2.Config
	userInfoURL  string
	resolver     *Resolver

	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewSessionGate creates a Google OAuth gate.
func NewSessionGate(cfg config.AuthConfig, resolver *Resolver) *SessionGate {
	return &SessionGate{
		config: cfg,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  strings.TrimRight(cfg.BaseURL, "/") + "/auth/callback",
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
		resolver:    resolver,
		sessions:    make(map[string]*Session),
		now:         time.Now,
	}
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// HandleLogin initiates the Google OAuth flow
func (g *SessionGate) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomToken()
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "failed to generate state")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOnline}
	if g.config.AllowedDomain != "" {
		opts = append(opts, oauth2.SetAuthURLParam("hd", g.config.AllowedDomain))
	}
	http.Redirect(w, r, g.oauth2Config.AuthCodeURL(state, opts...), http.StatusTemporaryRedirect)
}

// HandleCallback processes the OAuth callback from Google
func (g *SessionGate) HandleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || r.URL.Query().Get("state") != stateCookie.Value {
		log.Warn("oauth state mismatch")
		http.Redirect(w, r, "/?error=invalid_state", http.StatusTemporaryRedirect)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "oauth_state", Value: "", Path: "/", MaxAge: -1})

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		log.Warn("google returned error", "error", errMsg)
		http.Redirect(w, r, "/?error=oauth_denied", http.StatusTemporaryRedirect)
		return
	}

	token, err := g.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		log.Warn("code exchange failed", "error", err.Error())
		http.Redirect(w, r, "/?error=exchange_failed", http.StatusTemporaryRedirect)
		return
	}

	info, err := g.userInfo(r.Context(), token)
	if err != nil {
		log.Warn("user info failed", "error", err.Error())
		http.Redirect(w, r, "/?error=userinfo_failed", http.StatusTemporaryRedirect)
		return
	}
	email := domain.NormalizeEmail(info.Email)
	if !info.VerifiedEmail || !g.domainAllowed(email) {
		log.Warn("login rejected", "email", email)
		http.Redirect(w, r, "/?error=domain_not_allowed", http.StatusTemporaryRedirect)
		return
	}

	id, err := g.createSession(email, info.Name)
	if err != nil {
		http.Redirect(w, r, "/?error=session_failed", http.StatusTemporaryRedirect)
		return
	}
	log.Info("user logged in", "email", email)

	http.SetCookie(w, &http.Cookie{
		Name:     g.config.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   g.config.CookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// HandleLogout logs out the user
func (g *SessionGate) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(g.config.CookieName); err == nil {
		g.mu.Lock()
		delete(g.sessions, cookie.Value)
		g.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: g.config.CookieName, Value: "", Path: "/", MaxAge: -1})
	httputil.NoContent(w)
}

func (g *SessionGate) domainAllowed(email string) bool {
	if g.config.AllowedDomain == "" {
		return true
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && email[at+1:] == strings.ToLower(g.config.AllowedDomain)
}

func (g *SessionGate) createSession(email, name string) (string, error) {
	id, err := randomToken()
	if err != nil {
		return "", err
	}
	now := g.now()
	g.mu.Lock()
	g.sessions[id] = &Session{
		Email:     email,
		Name:      name,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(g.config.CookieMaxAge) * time.Second),
	}
	g.mu.Unlock()
	return id, nil
}

// session returns the live session for r, dropping it when expired.
func (g *SessionGate) session(r *http.Request) *Session {
	cookie, err := r.Cookie(g.config.CookieName)
	if err != nil {
		return nil
	}
	g.mu.RLock()
	s, ok := g.sessions[cookie.Value]
	g.mu.RUnlock()
	if !ok {
		return nil
	}
	if g.now().After(s.ExpiresAt) {
		g.mu.Lock()
		delete(g.sessions, cookie.Value)
		g.mu.Unlock()
		return nil
	}
	return s
}

// Authorize implements Gate.
func (g *SessionGate) Authorize(r *http.Request) (domain.Principal, bool) {
	s := g.session(r)
	if s == nil {
		return domain.Principal{}, false
	}
	p, err := g.resolver.Resolve(r.Context(), s.Email)
	if err != nil {
		log.Warn("membership lookup failed", "email", s.Email, "error", err.Error())
		return domain.Principal{}, false
	}
	return p, true
}

func (g *SessionGate) userInfo(ctx context.Context, token *oauth2.Token) (*GoogleUserInfo, error) {
	resp, err := g.oauth2Config.Client(ctx, token).Get(g.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("get user info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read user info: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google API error: HTTP %d", resp.StatusCode)
	}
	var info GoogleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parse user info: %w", err)
	}
	return &info, nil
}

// CleanupExpiredSessions removes expired sessions until ctx is done.
func (g *SessionGate) CleanupExpiredSessions(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.sweep()
			}
		}
	}()
}

func (g *SessionGate) sweep() {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, s := range g.sessions {
		if now.After(s.ExpiresAt) {
			delete(g.sessions, id)
		}
	}
}

// Package session keeps the anonymous cart key, the authenticated user and
// pending flash messages in a signed cookie.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultCookieName = "sessionid"
	DefaultMaxAge     = 14 * 24 * time.Hour
	LoginPath         = "/accounts/login"
)

type ctxKey struct{}

type Session struct {
	key      string
	userID   int64
	flashes  []string
	modified bool

	// authHash is the signed fingerprint read from the cookie; credential is
	// set by Login and fingerprinted on Save.
	authHash   string
	credential string
	// unverified hides the user for one request when the credential check
	// could not run; the cookie keeps the binding.
	unverified bool
}

func (s *Session) Key() string {
	return s.key
}

// EnsureKey returns the cart key, creating one when the session has none yet.
func (s *Session) EnsureKey() string {
	if s.key == "" {
		s.key = uuid.NewString()
		s.modified = true
	}
	return s.key
}

func (s *Session) UserID() int64 {
	if s.unverified {
		return 0
	}
	return s.userID
}

func (s *Session) Authenticated() bool {
	return s.UserID() != 0
}

// Login binds the session to a user. credential is the user's current
// password hash: once it changes, sessions bound to the old one stop
// authenticating. The cart key is kept so a cart filled anonymously survives
// authentication.
func (s *Session) Login(userID int64, credential string) {
	s.userID = userID
	s.credential = credential
	s.authHash = ""
	s.unverified = false
	s.modified = true
}

// Logout drops the user but keeps the cart key.
func (s *Session) Logout() {
	s.userID = 0
	s.credential = ""
	s.authHash = ""
	s.unverified = false
	s.modified = true
}

func (s *Session) AddFlash(message string) {
	s.flashes = append(s.flashes, message)
	s.modified = true
}

func (s *Session) PopFlashes() []string {
	flashes := s.flashes
	if len(flashes) > 0 {
		s.flashes = nil
		s.modified = true
	}
	return flashes
}

func (s *Session) Modified() bool {
	return s.modified
}

func (s *Session) empty() bool {
	return s.key == "" && s.userID == 0 && len(s.flashes) == 0
}

type claims struct {
	CartKey string   `json:"ck,omitempty"`
	UserID  int64    `json:"uid,omitempty"`
	Flashes []string `json:"fl,omitempty"`
	Auth    string   `json:"ah,omitempty"`
	jwt.RegisteredClaims
}

// CredentialLookup returns the credential sessions of userID must be bound
// to, or "" when the user no longer exists or may not log in.
type CredentialLookup func(ctx context.Context, userID int64) (string, error)

type Manager struct {
	secret      []byte
	cookieName  string
	maxAge      time.Duration
	secure      bool
	now         func() time.Time
	credentials CredentialLookup
}

type Option func(*Manager)

// WithCredentials makes Middleware check every authenticated session against
// the user's current credential.
func WithCredentials(lookup CredentialLookup) Option {
	return func(m *Manager) {
		m.credentials = lookup
	}
}

func WithCookieName(name string) Option {
	return func(m *Manager) {
		m.cookieName = name
	}
}

func WithMaxAge(maxAge time.Duration) Option {
	return func(m *Manager) {
		m.maxAge = maxAge
	}
}

func WithSecureCookie(secure bool) Option {
	return func(m *Manager) {
		m.secure = secure
	}
}

func NewManager(secret []byte, opts ...Option) *Manager {
	m := &Manager{
		secret:     secret,
		cookieName: DefaultCookieName,
		maxAge:     DefaultMaxAge,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load decodes the session cookie. Missing, tampered or expired cookies yield
// an empty session.
func (m *Manager) Load(r *http.Request) *Session {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return &Session{}
	}

	var c claims
	_, err = jwt.ParseWithClaims(cookie.Value, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		// A stale cookie still has to be replaced on the next save.
		return &Session{modified: true}
	}

	return &Session{key: c.CartKey, userID: c.UserID, flashes: c.Flashes, authHash: c.Auth}
}

func (m *Manager) fingerprint(credential string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte("session.auth:" + credential))
	return hex.EncodeToString(mac.Sum(nil))
}

// verify reports whether an authenticated session is still bound to the
// user's current credential.
func (m *Manager) verify(ctx context.Context, s *Session) (bool, error) {
	credential, err := m.credentials(ctx, s.userID)
	if err != nil {
		return false, err
	}
	if credential == "" || s.authHash == "" {
		return false, nil
	}
	return hmac.Equal([]byte(s.authHash), []byte(m.fingerprint(credential))), nil
}

// Save writes the cookie when the session changed during the request. It must
// run before the response header is written.
func (m *Manager) Save(w http.ResponseWriter, s *Session) error {
	if !s.modified {
		return nil
	}

	if s.empty() {
		http.SetCookie(w, &http.Cookie{
			Name:     m.cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   m.secure,
			SameSite: http.SameSiteLaxMode,
		})
		s.modified = false
		return nil
	}

	if s.credential != "" {
		s.authHash = m.fingerprint(s.credential)
		s.credential = ""
	}

	now := m.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		CartKey: s.key,
		UserID:  s.userID,
		Flashes: s.flashes,
		Auth:    s.authHash,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.maxAge)),
		},
	})
	value, err := token.SignedString(m.secret)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		Expires:  now.Add(m.maxAge),
		MaxAge:   int(m.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	s.modified = false
	return nil
}

// Middleware loads the session into the request context. With a credential
// lookup configured, a session whose user changed password, was deactivated
// or was deleted is logged out. A failed lookup only downgrades the current
// request to anonymous.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.Load(r)
		if s.Authenticated() && m.credentials != nil {
			ok, err := m.verify(r.Context(), s)
			switch {
			case err != nil:
				s.unverified = true
			case !ok:
				s.Logout()
			}
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), s)))
	})
}

// RequireUser redirects anonymous requests to the login endpoint, carrying the
// original path in the next parameter.
func (m *Manager) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !FromContext(r.Context()).Authenticated() {
			target := LoginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}
		next(w, r)
	}
}

func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the request session. Outside the middleware it returns
// a fresh empty session so callers never deal with nil.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(ctxKey{}).(*Session); ok {
		return s
	}
	return &Session{}
}

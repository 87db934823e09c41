package accounts

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/session"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeUsers struct {
	mu     sync.Mutex
	users  map[int64]*domain.User
	nextID int64
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[int64]*domain.User{}}
}

func (f *fakeUsers) add(t *testing.T, username, email, password string) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	u := &domain.User{Username: username, Email: email, PasswordHash: string(hash), IsActive: true}
	if err := f.Create(context.Background(), u); err != nil {
		t.Fatalf("failed to add user: %v", err)
	}
	return u
}

func (f *fakeUsers) Create(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == user.Username {
			return ErrDuplicateUsername
		}
		if strings.EqualFold(u.Email, user.Email) {
			return ErrDuplicateEmail
		}
	}
	f.nextID++
	user.ID = f.nextID
	user.DateJoined = time.Now()
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeUsers) GetByIdentifier(_ context.Context, identifier string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == identifier || strings.EqualFold(u.Email, identifier) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, id int64, name, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	for _, other := range f.users {
		if other.ID != id && strings.EqualFold(other.Email, email) {
			return nil, ErrDuplicateEmail
		}
	}
	u.Name, u.Email = name, email
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func newTestHandler(users *fakeUsers) *Handler {
	return newHandler(
		users,
		session.NewManager(testSecret),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		bcrypt.MinCost,
	)
}

func formRequest(method, target string, values url.Values, sess *session.Session) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sess == nil {
		sess = &session.Session{}
	}
	return req.WithContext(session.NewContext(req.Context(), sess))
}

func loggedIn(id int64) *session.Session {
	s := &session.Session{}
	s.Login(id, "")
	return s
}

func decodeErrors(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var resp struct {
		Errors map[string]string `json:"errors"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.Errors
}

func TestHandler_Register(t *testing.T) {
	valid := url.Values{
		"username":  {"ana"},
		"email":     {"ana@example.com"},
		"name":      {"Ana"},
		"password1": {"s3cret-pass"},
		"password2": {"s3cret-pass"},
	}

	t.Run("creates user", func(t *testing.T) {
		users := newFakeUsers()
		h := newTestHandler(users)
		rec := httptest.NewRecorder()

		h.HandleRegister(rec, formRequest(http.MethodPost, "/accounts/register", valid, nil))

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body)
		}
		if strings.Contains(rec.Body.String(), "password") {
			t.Error("response must not expose the password hash")
		}
		u, _ := users.GetByIdentifier(context.Background(), "ana")
		if u == nil {
			t.Fatal("expected user to be stored")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("s3cret-pass")); err != nil {
			t.Error("expected stored hash to match the password")
		}
	})

	t.Run("accepts json", func(t *testing.T) {
		h := newTestHandler(newFakeUsers())
		body := `{"username":"bob","email":"bob@example.com","password1":"abcdefgh","password2":"abcdefgh"}`
		req := httptest.NewRequest(http.MethodPost, "/accounts/register", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		h.HandleRegister(rec, req)

		if rec.Code != http.StatusCreated {
			t.Errorf("expected status 201, got %d: %s", rec.Code, rec.Body)
		}
	})

	tests := []struct {
		name   string
		modify func(v url.Values)
		field  string
	}{
		{"missing username", func(v url.Values) { v.Del("username") }, "username"},
		{"invalid username", func(v url.Values) { v.Set("username", "ana souza!") }, "username"},
		{"long username", func(v url.Values) { v.Set("username", strings.Repeat("a", 31)) }, "username"},
		{"invalid email", func(v url.Values) { v.Set("email", "not-an-email") }, "email"},
		{"short password", func(v url.Values) { v.Set("password1", "short"); v.Set("password2", "short") }, "password1"},
		{"mismatched passwords", func(v url.Values) { v.Set("password2", "different-pass") }, "password2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := newFakeUsers()
			h := newTestHandler(users)
			values := url.Values{}
			for k, v := range valid {
				values[k] = append([]string(nil), v...)
			}
			tt.modify(values)
			rec := httptest.NewRecorder()

			h.HandleRegister(rec, formRequest(http.MethodPost, "/accounts/register", values, nil))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rec.Code)
			}
			if errs := decodeErrors(t, rec); errs[tt.field] == "" {
				t.Errorf("expected error for %q, got %v", tt.field, errs)
			}
			if len(users.users) != 0 {
				t.Error("expected no user to be created")
			}
		})
	}

	t.Run("duplicate email", func(t *testing.T) {
		users := newFakeUsers()
		users.add(t, "someone", "ANA@example.com", "whatever-pass")
		h := newTestHandler(users)
		rec := httptest.NewRecorder()

		h.HandleRegister(rec, formRequest(http.MethodPost, "/accounts/register", valid, nil))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rec.Code)
		}
		if errs := decodeErrors(t, rec); errs["email"] == "" {
			t.Errorf("expected email error, got %v", errs)
		}
		if len(users.users) != 1 {
			t.Errorf("expected 1 user, got %d", len(users.users))
		}
	})
}

func TestHandler_Update(t *testing.T) {
	users := newFakeUsers()
	ana := users.add(t, "ana", "ana@example.com", "s3cret-pass")
	users.add(t, "bob", "bob@example.com", "s3cret-pass")
	h := newTestHandler(users)

	t.Run("updates profile", func(t *testing.T) {
		rec := httptest.NewRecorder()
		values := url.Values{"name": {"Ana Souza"}, "email": {"ana.souza@example.com"}}

		h.HandleUpdate(rec, formRequest(http.MethodPost, "/accounts/update", values, loggedIn(ana.ID)))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body)
		}
		u, _ := users.GetByID(context.Background(), ana.ID)
		if u.Name != "Ana Souza" || u.Email != "ana.souza@example.com" {
			t.Errorf("unexpected user after update: %+v", u)
		}
	})

	t.Run("email taken", func(t *testing.T) {
		rec := httptest.NewRecorder()
		values := url.Values{"name": {"Ana"}, "email": {"bob@example.com"}}

		h.HandleUpdate(rec, formRequest(http.MethodPost, "/accounts/update", values, loggedIn(ana.ID)))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rec.Code)
		}
		if errs := decodeErrors(t, rec); errs["email"] == "" {
			t.Errorf("expected email error, got %v", errs)
		}
	})
}

func TestHandler_Password(t *testing.T) {
	users := newFakeUsers()
	ana := users.add(t, "ana", "ana@example.com", "old-password")
	h := newTestHandler(users)

	t.Run("wrong old password", func(t *testing.T) {
		before, _ := users.GetByID(context.Background(), ana.ID)
		rec := httptest.NewRecorder()
		values := url.Values{
			"old_password":  {"not-it-at-all"},
			"new_password1": {"new-password"},
			"new_password2": {"new-password"},
		}

		h.HandlePassword(rec, formRequest(http.MethodPost, "/accounts/password", values, loggedIn(ana.ID)))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rec.Code)
		}
		if errs := decodeErrors(t, rec); errs["old_password"] == "" {
			t.Errorf("expected old_password error, got %v", errs)
		}
		after, _ := users.GetByID(context.Background(), ana.ID)
		if after.PasswordHash != before.PasswordHash {
			t.Error("password hash must not change")
		}
	})

	t.Run("changes password", func(t *testing.T) {
		rec := httptest.NewRecorder()
		values := url.Values{
			"old_password":  {"old-password"},
			"new_password1": {"new-password"},
			"new_password2": {"new-password"},
		}

		h.HandlePassword(rec, formRequest(http.MethodPost, "/accounts/password", values, loggedIn(ana.ID)))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body)
		}
		u, _ := users.GetByID(context.Background(), ana.ID)
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("new-password")); err != nil {
			t.Error("expected new password to be stored")
		}
	})
}

func TestHandler_PasswordRebindsSessions(t *testing.T) {
	users := newFakeUsers()
	ana := users.add(t, "ana", "ana@example.com", "old-password")
	h := newTestHandler(users)
	credential := func(ctx context.Context, id int64) (string, error) {
		u, err := users.GetByID(ctx, id)
		if u == nil {
			return "", err
		}
		return u.PasswordHash, nil
	}
	verifying := session.NewManager(testSecret, session.WithCredentials(credential))

	// authenticated replays the cookie through the verifying middleware.
	authenticated := func(cookie *http.Cookie) bool {
		var ok bool
		handler := verifying.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			ok = session.FromContext(r.Context()).Authenticated()
		}))
		req := httptest.NewRequest(http.MethodGet, "/accounts/", nil)
		req.AddCookie(cookie)
		handler.ServeHTTP(httptest.NewRecorder(), req)
		return ok
	}

	login := httptest.NewRecorder()
	h.HandleLogin(login, formRequest(http.MethodPost, "/accounts/login",
		url.Values{"identifier": {"ana"}, "password": {"old-password"}}, nil))
	if login.Code != http.StatusOK || len(login.Result().Cookies()) != 1 {
		t.Fatalf("login failed: %d", login.Code)
	}
	other := login.Result().Cookies()[0]
	if !authenticated(other) {
		t.Fatal("expected fresh login to verify")
	}

	rec := httptest.NewRecorder()
	values := url.Values{
		"old_password":  {"old-password"},
		"new_password1": {"new-password"},
		"new_password2": {"new-password"},
	}
	h.HandlePassword(rec, formRequest(http.MethodPost, "/accounts/password", values, loggedIn(ana.ID)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected the current session to be re-signed, got %d cookies", len(cookies))
	}
	if !authenticated(cookies[0]) {
		t.Error("expected the session that changed the password to stay signed in")
	}
	if authenticated(other) {
		t.Error("expected sessions bound to the old password to be logged out")
	}
}

func TestHandler_Login(t *testing.T) {
	users := newFakeUsers()
	users.add(t, "ana", "ana@example.com", "s3cret-pass")
	h := newTestHandler(users)

	tests := []struct {
		name       string
		identifier string
		password   string
		wantStatus int
	}{
		{"username", "ana", "s3cret-pass", http.StatusOK},
		{"email", "ANA@example.com", "s3cret-pass", http.StatusOK},
		{"wrong password", "ana", "nope-nope", http.StatusBadRequest},
		{"unknown user", "carol", "s3cret-pass", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &session.Session{}
			key := sess.EnsureKey()
			rec := httptest.NewRecorder()
			values := url.Values{"identifier": {tt.identifier}, "password": {tt.password}}

			h.HandleLogin(rec, formRequest(http.MethodPost, "/accounts/login", values, sess))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if (tt.wantStatus == http.StatusOK) != sess.Authenticated() {
				t.Errorf("unexpected authentication state %v", sess.Authenticated())
			}
			if sess.Key() != key {
				t.Error("login must keep the cart key")
			}
		})
	}

	t.Run("redirects to next", func(t *testing.T) {
		rec := httptest.NewRecorder()
		values := url.Values{"identifier": {"ana"}, "password": {"s3cret-pass"}}

		h.HandleLogin(rec, formRequest(http.MethodPost, "/accounts/login?next=%2Fcheckout%2Forders", values, nil))

		if rec.Code != http.StatusSeeOther {
			t.Fatalf("expected status 303, got %d", rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != "/checkout/orders" {
			t.Errorf("unexpected Location %q", loc)
		}
	})

	t.Run("ignores external next", func(t *testing.T) {
		rec := httptest.NewRecorder()
		values := url.Values{"identifier": {"ana"}, "password": {"s3cret-pass"}, "next": {"//evil.example.com"}}

		h.HandleLogin(rec, formRequest(http.MethodPost, "/accounts/login", values, nil))

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})
}

func TestHandler_IndexDeletedUser(t *testing.T) {
	h := newTestHandler(newFakeUsers())
	sess := loggedIn(99)
	rec := httptest.NewRecorder()

	h.HandleIndex(rec, formRequest(http.MethodGet, "/accounts/", nil, sess))

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected status 303, got %d", rec.Code)
	}
	if sess.Authenticated() {
		t.Error("expected session to be logged out")
	}
}

func TestHandler_Logout(t *testing.T) {
	h := newTestHandler(newFakeUsers())
	sess := loggedIn(1)
	key := sess.EnsureKey()
	rec := httptest.NewRecorder()

	h.HandleLogout(rec, formRequest(http.MethodPost, "/accounts/logout", nil, sess))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if sess.Authenticated() || sess.Key() != key {
		t.Errorf("unexpected session after logout: user=%d key=%q", sess.UserID(), sess.Key())
	}
	if len(rec.Result().Cookies()) != 1 {
		t.Error("expected session cookie to be rewritten")
	}
}

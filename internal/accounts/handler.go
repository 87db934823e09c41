package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/session"
)

const invalidLoginMessage = "Please enter a correct username and password. Note that both fields may be case-sensitive."

type Users interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*domain.User, error)
	UpdateProfile(ctx context.Context, id int64, name, email string) (*domain.User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}

type Handler struct {
	users    Users
	sessions *session.Manager
	validate *validator.Validate
	hashCost int
	logger   *slog.Logger

	// compared against when the identifier is unknown so both paths cost a bcrypt run
	dummyHash []byte
}

func NewHandler(users Users, sessions *session.Manager, logger *slog.Logger) *Handler {
	return newHandler(users, sessions, logger, bcrypt.DefaultCost)
}

func newHandler(users Users, sessions *session.Manager, logger *slog.Logger, cost int) *Handler {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cost)
	return &Handler{
		users:     users,
		sessions:  sessions,
		validate:  newValidator(),
		hashCost:  cost,
		logger:    logger,
		dummyHash: dummy,
	}
}

type formDescription struct {
	Fields  []string `json:"fields"`
	Initial any      `json:"initial,omitempty"`
}

func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

func (h *Handler) HandleRegisterForm(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, formDescription{
		Fields: []string{"username", "email", "name", "password1", "password2"},
	})
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var form registerForm
	if err := bindForm(w, r, &form); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	form.Username = strings.TrimSpace(form.Username)
	form.Email = normalizeEmail(form.Email)
	form.Name = strings.TrimSpace(form.Name)

	if !h.checkForm(w, &form) {
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(form.Password1), h.hashCost)
	if err != nil {
		h.logger.Error("failed to hash password", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	user := &domain.User{
		Username:     form.Username,
		Name:         form.Name,
		Email:        form.Email,
		PasswordHash: string(hash),
		IsActive:     true,
	}

	if err := h.users.Create(r.Context(), user); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateUsername):
			h.writeFieldErrors(w, fieldErrors{"username": "A user with that username already exists."})
		case errors.Is(err, ErrDuplicateEmail):
			h.writeFieldErrors(w, fieldErrors{"email": "User with this email already exists."})
		default:
			h.logger.Error("failed to create user", "error", err)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	h.writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) HandleUpdateForm(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, formDescription{
		Fields:  []string{"name", "email"},
		Initial: updateForm{Name: user.Name, Email: user.Email},
	})
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())

	var form updateForm
	if err := bindForm(w, r, &form); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	form.Name = strings.TrimSpace(form.Name)
	form.Email = normalizeEmail(form.Email)

	if !h.checkForm(w, &form) {
		return
	}

	user, err := h.users.UpdateProfile(r.Context(), sess.UserID(), form.Name, form.Email)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			h.writeFieldErrors(w, fieldErrors{"email": "User with this email already exists."})
			return
		}
		h.logger.Error("failed to update user", "error", err, "user_id", sess.UserID())
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if user == nil {
		h.writeError(w, http.StatusNotFound, "user not found")
		return
	}

	h.logger.Info("user updated", "user_id", user.ID)
	h.writeJSON(w, http.StatusOK, user)
}

func (h *Handler) HandlePasswordForm(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, formDescription{
		Fields: []string{"old_password", "new_password1", "new_password2"},
	})
}

func (h *Handler) HandlePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var form passwordForm
	if err := bindForm(w, r, &form); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.checkForm(w, &form) {
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(form.OldPassword)); err != nil {
		h.writeFieldErrors(w, fieldErrors{
			"old_password": "Your old password was entered incorrectly. Please enter it again.",
		})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(form.NewPassword1), h.hashCost)
	if err != nil {
		h.logger.Error("failed to hash password", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.users.UpdatePassword(r.Context(), user.ID, string(hash)); err != nil {
		h.logger.Error("failed to update password", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Other sessions are bound to the old hash; keep this one signed in.
	sess := session.FromContext(r.Context())
	sess.Login(user.ID, string(hash))
	if !h.saveSession(w, sess) {
		return
	}

	h.logger.Info("password changed", "user_id", user.ID)
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())

	var form loginForm
	if err := bindForm(w, r, &form); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	form.Identifier = strings.TrimSpace(form.Identifier)

	if !h.checkForm(w, &form) {
		return
	}

	user, err := h.users.GetByIdentifier(r.Context(), form.Identifier)
	if err != nil {
		h.logger.Error("failed to look up user", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	hash := h.dummyHash
	if user != nil {
		hash = []byte(user.PasswordHash)
	}
	pwErr := bcrypt.CompareHashAndPassword(hash, []byte(form.Password))
	if user == nil || pwErr != nil || !user.IsActive {
		h.writeError(w, http.StatusBadRequest, invalidLoginMessage)
		return
	}

	sess.Login(user.ID, user.PasswordHash)
	if !h.saveSession(w, sess) {
		return
	}

	h.logger.Info("user logged in", "user_id", user.ID)

	if next := r.URL.Query().Get("next"); isLocalPath(next) {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	if isLocalPath(form.Next) {
		http.Redirect(w, r, form.Next, http.StatusSeeOther)
		return
	}

	h.writeJSON(w, http.StatusOK, user)
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	userID := sess.UserID()

	sess.Logout()
	if !h.saveSession(w, sess) {
		return
	}

	h.logger.Info("user logged out", "user_id", userID)
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// currentUser loads the session user. A session pointing at a deleted user
// is logged out and redirected to the login page.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	sess := session.FromContext(r.Context())

	user, err := h.users.GetByID(r.Context(), sess.UserID())
	if err != nil {
		h.logger.Error("failed to get user", "error", err, "user_id", sess.UserID())
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}

	if user == nil || !user.IsActive {
		sess.Logout()
		if h.saveSession(w, sess) {
			http.Redirect(w, r, session.LoginPath, http.StatusSeeOther)
		}
		return nil, false
	}

	return user, true
}

func (h *Handler) checkForm(w http.ResponseWriter, form any) bool {
	err := validateForm(h.validate, form)
	if err == nil {
		return true
	}

	var fe fieldErrors
	if errors.As(err, &fe) {
		h.writeFieldErrors(w, fe)
		return false
	}

	h.logger.Error("failed to validate form", "error", err)
	h.writeError(w, http.StatusInternalServerError, "internal server error")
	return false
}

func (h *Handler) saveSession(w http.ResponseWriter, sess *session.Session) bool {
	if err := h.sessions.Save(w, sess); err != nil {
		h.logger.Error("failed to save session", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return false
	}
	return true
}

func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.HasPrefix(p, "/\\")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeFieldErrors(w http.ResponseWriter, errs fieldErrors) {
	h.writeJSON(w, http.StatusBadRequest, map[string]fieldErrors{"errors": errs})
}

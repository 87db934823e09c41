package accounts

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront/internal/domain"
)

var (
	ErrDuplicateUsername = errors.New("username already taken")
	ErrDuplicateEmail    = errors.New("email already registered")
)

const uniqueViolation = "23505"

const userColumns = `id, username, name, email, password_hash, is_active, date_joined`

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (username, name, email, password_hash, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, date_joined
	`, user.Username, user.Name, user.Email, user.PasswordHash, user.IsActive).Scan(&user.ID, &user.DateJoined)
	return translateUniqueViolation(err)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByIdentifier matches the username exactly or the email case-insensitively.
func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	return r.getOne(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = $1 OR lower(email) = lower($1)
		ORDER BY username = $1 DESC
		LIMIT 1
	`, identifier)
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id int64, name, email string) (*domain.User, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET name = $2, email = $3
		WHERE id = $1
	`, id, name, email)
	if err != nil {
		return nil, translateUniqueViolation(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rowsAffected == 0 {
		return nil, nil
	}

	return r.GetByID(ctx, id)
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2
		WHERE id = $1
	`, id, passwordHash)
	return err
}

// Credential returns the password hash sessions are bound to, or "" when the
// user is missing or inactive.
func (r *UserRepository) Credential(ctx context.Context, id int64) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx, `
		SELECT password_hash FROM users
		WHERE id = $1 AND is_active
	`, id).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (*domain.User, error) {
	user := &domain.User{}

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID, &user.Username, &user.Name, &user.Email, &user.PasswordHash, &user.IsActive, &user.DateJoined,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return user, nil
}

func translateUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}

	switch pqErr.Constraint {
	case "users_username_key":
		return ErrDuplicateUsername
	case "users_email_key":
		return ErrDuplicateEmail
	}
	return err
}

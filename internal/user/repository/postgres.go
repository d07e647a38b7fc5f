package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"inclusion-platform/backend/internal/db"
	"inclusion-platform/backend/internal/user/domain"
)

// ErrDuplicateEmail is returned by Create when the email is already registered.
var ErrDuplicateEmail = errors.New("email already registered")

const userColumns = `id, email, first_name, last_name, role, status, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(pool *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail returns the user with the given email (case-insensitive), or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

// Create persists the user. The user must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.FirstName, u.LastName, string(u.Role), string(u.Status), u.CreatedAt, u.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "users_email_key") {
		return ErrDuplicateEmail
	}
	return err
}

// Update saves names and status. Email and role are immutable.
func (r *PostgresRepository) Update(ctx context.Context, u *domain.User) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE users SET first_name = $2, last_name = $3, status = $4, updated_at = $5 WHERE id = $1`,
		u.ID, u.FirstName, u.LastName, string(u.Status), u.UpdatedAt)
	return err
}

func (r *PostgresRepository) get(ctx context.Context, query string, arg string) (*domain.User, error) {
	var u domain.User
	var role, status string
	err := db.Conn(ctx, r.db).QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &role, &status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Role = domain.Role(role)
	u.Status = domain.UserStatus(status)
	return &u, nil
}

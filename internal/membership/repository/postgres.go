package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"inclusion-platform/backend/internal/db"
	"inclusion-platform/backend/internal/membership/domain"
)

const membershipColumns = `id, user_id, org_id, is_admin, is_active, joined_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a membership repository that uses the given db for persistence.
func NewPostgresRepository(pool *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

// GetMembershipByUserAndOrg returns the membership for the given user and org, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 AND org_id = $2`, userID, orgID)
	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// ListMembershipsByOrg returns active memberships of the org, admin first then by join date.
func (r *PostgresRepository) ListMembershipsByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error) {
	return r.list(ctx, `SELECT `+membershipColumns+` FROM memberships
		WHERE org_id = $1 AND is_active ORDER BY is_admin DESC, joined_at ASC`, orgID)
}

// ListMembershipsByUser returns the user's active memberships ordered by join date.
func (r *PostgresRepository) ListMembershipsByUser(ctx context.Context, userID string) ([]*domain.Membership, error) {
	return r.list(ctx, `SELECT `+membershipColumns+` FROM memberships
		WHERE user_id = $1 AND is_active ORDER BY joined_at ASC`, userID)
}

// CountActiveByOrg returns the number of active members of the org.
func (r *PostgresRepository) CountActiveByOrg(ctx context.Context, orgID string) (int64, error) {
	var n int64
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT count(*) FROM memberships WHERE org_id = $1 AND is_active`, orgID).Scan(&n)
	return n, err
}

// CreateMembership persists the membership to the database. The membership must have ID set.
func (r *PostgresRepository) CreateMembership(ctx context.Context, m *domain.Membership) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO memberships (`+membershipColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.UserID, m.OrgID, m.IsAdmin, m.IsActive, m.JoinedAt, m.UpdatedAt)
	return err
}

// SetActive sets is_active for the (user, org) membership. Reactivation resets joined_at and
// clears is_admin.
func (r *PostgresRepository) SetActive(ctx context.Context, userID, orgID string, active bool) error {
	now := time.Now().UTC()
	query := `UPDATE memberships SET is_active = $3, updated_at = $4 WHERE user_id = $1 AND org_id = $2`
	if active {
		query = `UPDATE memberships SET is_active = $3, updated_at = $4, joined_at = $4, is_admin = false WHERE user_id = $1 AND org_id = $2`
	}
	_, err := db.Conn(ctx, r.db).ExecContext(ctx, query, userID, orgID, active, now)
	return err
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Membership, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMembership(s scanner) (*domain.Membership, error) {
	var m domain.Membership
	if err := s.Scan(&m.ID, &m.UserID, &m.OrgID, &m.IsAdmin, &m.IsActive, &m.JoinedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"inclusion-platform/backend/internal/db"
	"inclusion-platform/backend/internal/invitation/domain"
)

const invitationColumns = `id, sender_id, org_id, first_name, last_name, email, status, sent_at, expires_at, accepted_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an invitation repository that uses the given db for persistence.
func NewPostgresRepository(pool *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

// GetByID returns the invitation for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Invitation, error) {
	return r.get(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id)
}

// GetForUpdate is GetByID with SELECT ... FOR UPDATE.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*domain.Invitation, error) {
	return r.get(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1 FOR UPDATE`, id)
}

// Create persists the invitation. The invitation must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, inv *domain.Invitation) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO invitations (`+invitationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inv.ID, inv.SenderID, inv.OrgID, inv.FirstName, inv.LastName, inv.Email, string(inv.Status), inv.SentAt, inv.ExpiresAt, nullTime(inv.AcceptedAt))
	return err
}

// ListPendingByOrg returns pending, unexpired invitations of the org, newest first.
func (r *PostgresRepository) ListPendingByOrg(ctx context.Context, orgID string, now time.Time) ([]*domain.Invitation, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE org_id = $1 AND status = 'pending' AND expires_at > $2 ORDER BY sent_at DESC`,
		orgID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// MarkAccepted sets status accepted. Only a pending row transitions.
func (r *PostgresRepository) MarkAccepted(ctx context.Context, id string, at time.Time) error {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE invitations SET status = 'accepted', accepted_at = $2 WHERE id = $1 AND status = 'pending'`, id, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrInvitationAccepted
	}
	return nil
}

func (r *PostgresRepository) get(ctx context.Context, query, id string) (*domain.Invitation, error) {
	inv, err := scanInvitation(db.Conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return inv, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvitation(s scanner) (*domain.Invitation, error) {
	var inv domain.Invitation
	var status string
	var acceptedAt sql.NullTime
	if err := s.Scan(&inv.ID, &inv.SenderID, &inv.OrgID, &inv.FirstName, &inv.LastName, &inv.Email, &status, &inv.SentAt, &inv.ExpiresAt, &acceptedAt); err != nil {
		return nil, err
	}
	inv.Status = domain.Status(status)
	if acceptedAt.Valid {
		inv.AcceptedAt = &acceptedAt.Time
	}
	return &inv, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"inclusion-platform/backend/internal/db"
	"inclusion-platform/backend/internal/organization/domain"
)

// ErrDuplicateSiretKind is returned by CreateOrganization when (siret, kind) is already taken.
var ErrDuplicateSiretKind = errors.New("an organization with this siret and kind already exists")

const orgColumns = `id, name, category, kind, siret, auth_email, secret_code, status, members_version, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an organization repository that uses the given db for persistence.
// Calls made with a context from db.TxManager.RunInTx run inside that transaction.
func NewPostgresRepository(pool *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

// GetOrganizationByID returns the organization for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetOrganizationByID(ctx context.Context, id string) (*domain.Org, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id)
	return scanOrgRow(row)
}

// GetOrganizationForUpdate is GetOrganizationByID with SELECT ... FOR UPDATE.
// Must be called inside a transaction for the lock to outlive the statement.
func (r *PostgresRepository) GetOrganizationForUpdate(ctx context.Context, id string) (*domain.Org, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1 FOR UPDATE`, id)
	return scanOrgRow(row)
}

// ListBySiretAndKind returns organizations matching siret and kind (at most one given the unique index).
func (r *PostgresRepository) ListBySiretAndKind(ctx context.Context, siret string, kind domain.Kind) ([]*domain.Org, error) {
	return r.list(ctx, `SELECT `+orgColumns+` FROM organizations WHERE siret = $1 AND kind = $2 ORDER BY created_at`, siret, string(kind))
}

// ListByAuthEmailAndKind returns organizations whose auth email matches (case-insensitive) for kind.
func (r *PostgresRepository) ListByAuthEmailAndKind(ctx context.Context, email string, kind domain.Kind) ([]*domain.Org, error) {
	return r.list(ctx, `SELECT `+orgColumns+` FROM organizations WHERE lower(auth_email) = lower($1) AND kind = $2 ORDER BY created_at`, email, string(kind))
}

// GetBySecretCode returns the organization holding code, or nil if none does.
func (r *PostgresRepository) GetBySecretCode(ctx context.Context, code string) (*domain.Org, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE secret_code = $1 AND secret_code <> ''`, code)
	return scanOrgRow(row)
}

// ListOrganizations returns organizations of a category (all categories when empty), ordered by name.
func (r *PostgresRepository) ListOrganizations(ctx context.Context, category domain.Category, limit, offset int32) ([]*domain.Org, error) {
	return r.list(ctx, `SELECT `+orgColumns+` FROM organizations WHERE ($1 = '' OR category = $1) ORDER BY name LIMIT $2 OFFSET $3`,
		string(category), limit, offset)
}

// CreateOrganization persists the organization. The organization must have ID set.
func (r *PostgresRepository) CreateOrganization(ctx context.Context, o *domain.Org) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO organizations (`+orgColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		o.ID, o.Name, string(o.Category), string(o.Kind), o.Siret, o.AuthEmail, o.SecretCode, string(o.Status), o.MembersVersion, o.CreatedAt, o.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "organizations_siret_kind_key") {
		return ErrDuplicateSiretKind
	}
	return err
}

// UpdateStatus sets the organization status.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status domain.OrgStatus) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE organizations SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), time.Now().UTC())
	return err
}

// BumpMembersVersion increments members_version and returns the new value.
func (r *PostgresRepository) BumpMembersVersion(ctx context.Context, id string) (int64, error) {
	var v int64
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`UPDATE organizations SET members_version = members_version + 1, updated_at = $2 WHERE id = $1 RETURNING members_version`,
		id, time.Now().UTC()).Scan(&v)
	return v, err
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Org, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Org
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrg(s scanner) (*domain.Org, error) {
	var o domain.Org
	var category, kind, status string
	if err := s.Scan(&o.ID, &o.Name, &category, &kind, &o.Siret, &o.AuthEmail, &o.SecretCode, &status, &o.MembersVersion, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Category = domain.Category(category)
	o.Kind = domain.Kind(kind)
	o.Status = domain.OrgStatus(status)
	return &o, nil
}

func scanOrgRow(row *sql.Row) (*domain.Org, error) {
	o, err := scanOrg(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}

// Package service manages the organization lifecycle for back-office tools: creation, CSV import,
// listing and deactivation.
package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inclusion-platform/backend/internal/audit"
	auditdomain "inclusion-platform/backend/internal/audit/domain"
	"inclusion-platform/backend/internal/organization/domain"
	orgrepo "inclusion-platform/backend/internal/organization/repository"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrDuplicate            = errors.New("an organization with this siret and kind already exists")
	ErrBadHeader            = errors.New("csv header must contain name, kind, siret and auth_email")
)

// Repo is the organization repository needed by the service.
type Repo interface {
	GetOrganizationByID(ctx context.Context, id string) (*domain.Org, error)
	ListOrganizations(ctx context.Context, category domain.Category, limit, offset int32) ([]*domain.Org, error)
	CreateOrganization(ctx context.Context, o *domain.Org) error
	UpdateStatus(ctx context.Context, id string, status domain.OrgStatus) error
	// BumpMembersVersion invalidates outstanding magic links.
	BumpMembersVersion(ctx context.Context, id string) (int64, error)
}

// Service implements the back-office organization operations.
type Service struct {
	repo  Repo
	audit audit.AuditLogger
	log   *zap.Logger
	now   func() time.Time
}

// NewService returns a Service. auditLogger and log may be nil.
func NewService(repo Repo, auditLogger audit.AuditLogger, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, audit: auditLogger, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// CreateInput describes a new organization. Category is derived from Kind.
type CreateInput struct {
	Name      string
	Kind      string
	Siret     string
	AuthEmail string
}

// Create validates and stores a new active organization.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Org, error) {
	kind, err := domain.ParseKind(in.Kind)
	if err != nil {
		return nil, err
	}
	now := s.now()
	o := &domain.Org{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(in.Name),
		Kind:      kind,
		Siret:     in.Siret,
		AuthEmail: in.AuthEmail,
		Status:    domain.OrgStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.CreateOrganization(ctx, o); err != nil {
		if errors.Is(err, orgrepo.ErrDuplicateSiretKind) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	if s.audit != nil {
		s.audit.LogEvent(ctx, o.ID, "", audit.ActionOrgCreated, audit.ResourceOrganization,
			auditdomain.Metadata("kind", string(o.Kind), "siret", o.Siret))
	}
	return o, nil
}

// ImportReport summarizes a CSV import.
type ImportReport struct {
	Created []*domain.Org
	// Skipped holds rows already present (same siret and kind).
	Skipped int
	// Failed maps a 1-based CSV line number to the reason it was rejected.
	Failed map[int]error
}

// ImportCSV creates one organization per row of r. The header names the columns
// (name, kind, siret, auth_email; any order, extra columns ignored). Rows already present are
// skipped, invalid rows are reported and do not stop the import.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader) (*ImportReport, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{"name", "kind", "siret", "auth_email"} {
		if _, ok := col[name]; !ok {
			return nil, ErrBadHeader
		}
	}
	field := func(rec []string, name string) string {
		if i := col[name]; i < len(rec) {
			return rec[i]
		}
		return ""
	}

	report := &ImportReport{Failed: make(map[int]error)}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.Failed[line] = err
			continue
		}
		o, err := s.Create(ctx, CreateInput{
			Name:      field(rec, "name"),
			Kind:      field(rec, "kind"),
			Siret:     field(rec, "siret"),
			AuthEmail: field(rec, "auth_email"),
		})
		switch {
		case errors.Is(err, ErrDuplicate):
			report.Skipped++
		case err != nil:
			report.Failed[line] = err
		default:
			report.Created = append(report.Created, o)
		}
	}
	s.log.Info("organization import done",
		zap.Int("created", len(report.Created)), zap.Int("skipped", report.Skipped), zap.Int("failed", len(report.Failed)))
	return report, nil
}

// List returns organizations of category (all when empty), by name.
func (s *Service) List(ctx context.Context, category string, limit, offset int32) ([]*domain.Org, error) {
	var c domain.Category
	if category != "" {
		var err error
		if c, err = domain.ParseCategory(category); err != nil {
			return nil, err
		}
	}
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListOrganizations(ctx, c, limit, offset)
}

// Deactivate stops an organization from accepting members and invalidates its outstanding links.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	o, err := s.repo.GetOrganizationByID(ctx, id)
	if err != nil {
		return err
	}
	if o == nil {
		return ErrOrganizationNotFound
	}
	if !o.IsActive() {
		return nil
	}
	if err := s.repo.UpdateStatus(ctx, id, domain.OrgStatusInactive); err != nil {
		return err
	}
	if _, err := s.repo.BumpMembersVersion(ctx, id); err != nil {
		return err
	}
	if s.audit != nil {
		s.audit.LogEvent(ctx, id, "", audit.ActionOrgDeactivated, audit.ResourceOrganization, "")
	}
	return nil
}

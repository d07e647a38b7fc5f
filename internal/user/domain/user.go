package domain

import (
	"errors"
	"strings"
	"time"

	orgdomain "inclusion-platform/backend/internal/organization/domain"
)

// User is the core user entity. Role is a single tag; a user is never two kinds of user at once.
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Role      Role
	Status    UserStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

type Role string

const (
	RoleJobSeeker      Role = "job_seeker"
	RolePrescriber     Role = "prescriber"
	RoleEmployer       Role = "employer"
	RoleLaborInspector Role = "labor_inspector"
)

// ErrNoStaffRole is returned when a category has no staff role.
var ErrNoStaffRole = errors.New("no staff role for organization category")

// RoleForCategory returns the role staff of an organization category sign up with.
func RoleForCategory(c orgdomain.Category) (Role, error) {
	switch c {
	case orgdomain.CategorySiae:
		return RoleEmployer, nil
	case orgdomain.CategoryPrescriber:
		return RolePrescriber, nil
	case orgdomain.CategoryInstitution:
		return RoleLaborInspector, nil
	default:
		return "", ErrNoStaffRole
	}
}

// Label is the French noun used in form errors ("n'est pas un employeur").
func (r Role) Label() string {
	switch r {
	case RoleJobSeeker:
		return "candidat"
	case RolePrescriber:
		return "prescripteur"
	case RoleEmployer:
		return "employeur"
	case RoleLaborInspector:
		return "inspecteur"
	default:
		return string(r)
	}
}

// FullName is "First Last".
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// NormalizeEmail lower-cases and trims an email. Emails are unique case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	u.Email = NormalizeEmail(u.Email)
	if u.Email == "" {
		return errors.New("email is required")
	}
	if strings.TrimSpace(u.FirstName) == "" || strings.TrimSpace(u.LastName) == "" {
		return errors.New("first name and last name are required")
	}
	switch u.Role {
	case RoleJobSeeker, RolePrescriber, RoleEmployer, RoleLaborInspector:
	default:
		return errors.New("invalid role")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}

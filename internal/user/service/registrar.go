// Package service creates staff accounts: the user row and its local password identity.
package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	identitydomain "inclusion-platform/backend/internal/identity/domain"
	"inclusion-platform/backend/internal/security"
	"inclusion-platform/backend/internal/user/domain"
	userrepo "inclusion-platform/backend/internal/user/repository"
)

var (
	ErrNamesRequired          = errors.New("first name and last name are required")
	ErrInvalidEmail           = errors.New("invalid email address")
	ErrPasswordMismatch       = errors.New("the two passwords do not match")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
)

// UserRepo is the minimal user repository needed by the registrar.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}

// IdentityRepo is the minimal identity repository needed by the registrar.
type IdentityRepo interface {
	Create(ctx context.Context, i *identitydomain.Identity) error
}

// SignupForm is what a newcomer types on a signup or invitation page.
type SignupForm struct {
	Email     string
	FirstName string
	LastName  string
	Password1 string
	Password2 string
}

// Account is a checked form with its password already hashed, ready to be stored.
type Account struct {
	Email        string
	FirstName    string
	LastName     string
	Role         domain.Role
	passwordHash string
}

// Registrar checks signup forms and stores accounts.
type Registrar struct {
	users      UserRepo
	identities IdentityRepo
	hasher     *security.Hasher
	now        func() time.Time
}

// NewRegistrar returns a Registrar.
func NewRegistrar(users UserRepo, identities IdentityRepo, hasher *security.Hasher) *Registrar {
	return &Registrar{users: users, identities: identities, hasher: hasher, now: func() time.Time { return time.Now().UTC() }}
}

// ValidEmail reports whether s is a bare address ("a@b.fr", no display name).
func ValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}

// Prepare checks the form and hashes the password. It touches no repository, so callers run it
// before opening their transaction.
func (r *Registrar) Prepare(f SignupForm, role domain.Role) (*Account, error) {
	a := &Account{
		Email:     domain.NormalizeEmail(f.Email),
		FirstName: strings.TrimSpace(f.FirstName),
		LastName:  strings.TrimSpace(f.LastName),
		Role:      role,
	}
	if a.FirstName == "" || a.LastName == "" {
		return nil, ErrNamesRequired
	}
	if !ValidEmail(a.Email) {
		return nil, ErrInvalidEmail
	}
	if f.Password1 != f.Password2 {
		return nil, ErrPasswordMismatch
	}
	if err := security.ValidatePassword(f.Password1, a.Email); err != nil {
		return nil, err
	}
	hash, err := r.hasher.Hash(f.Password1)
	if err != nil {
		return nil, err
	}
	a.passwordHash = hash
	return a, nil
}

// Create stores the user and its local identity. Run it inside the caller's transaction.
func (r *Registrar) Create(ctx context.Context, a *Account) (*domain.User, error) {
	existing, err := r.users.GetByEmail(ctx, a.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	now := r.now()
	u := &domain.User{
		ID:        uuid.New().String(),
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Role:      a.Role,
		Status:    domain.UserStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if err := r.users.Create(ctx, u); err != nil {
		if errors.Is(err, userrepo.ErrDuplicateEmail) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, err
	}
	ident := &identitydomain.Identity{
		ID:           uuid.New().String(),
		UserID:       u.ID,
		Provider:     identitydomain.IdentityProviderLocal,
		ProviderID:   u.Email,
		PasswordHash: a.passwordHash,
		CreatedAt:    now,
	}
	if err := r.identities.Create(ctx, ident); err != nil {
		return nil, err
	}
	return u, nil
}

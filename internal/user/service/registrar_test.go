package service

import (
	"context"
	"errors"
	"testing"

	identitydomain "inclusion-platform/backend/internal/identity/domain"
	identityrepo "inclusion-platform/backend/internal/identity/repository"
	"inclusion-platform/backend/internal/security"
	"inclusion-platform/backend/internal/user/domain"
	userrepo "inclusion-platform/backend/internal/user/repository"
)

const goodPassword = "Correct-Horse-42"

func TestValidEmail(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"jeanne@siae.fr", true},
		{"jeanne.martin+test@pole-emploi.fr", true},
		{"jeanne", false},
		{"jeanne@localhost", false},
		{"Jeanne <jeanne@siae.fr>", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidEmail(tt.in); got != tt.want {
			t.Errorf("ValidEmail(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPrepare(t *testing.T) {
	r := NewRegistrar(userrepo.NewMemoryRepository(), identityrepo.NewMemoryRepository(), security.NewHasher(4))
	base := SignupForm{Email: " Jeanne@SIAE.fr", FirstName: " Jeanne ", LastName: "Martin", Password1: goodPassword, Password2: goodPassword}

	a, err := r.Prepare(base, domain.RoleEmployer)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if a.Email != "jeanne@siae.fr" || a.FirstName != "Jeanne" {
		t.Errorf("account = %+v, want normalized fields", a)
	}

	tests := []struct {
		name   string
		mutate func(*SignupForm)
		want   error
	}{
		{"missing last name", func(f *SignupForm) { f.LastName = " " }, ErrNamesRequired},
		{"bad email", func(f *SignupForm) { f.Email = "jeanne" }, ErrInvalidEmail},
		{"mismatch", func(f *SignupForm) { f.Password2 = "Other-Horse-42" }, ErrPasswordMismatch},
		{"too short", func(f *SignupForm) { f.Password1, f.Password2 = "short", "short" }, security.ErrPasswordTooShort},
		{"numeric", func(f *SignupForm) { f.Password1, f.Password2 = "1234567890", "1234567890" }, security.ErrPasswordNumeric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := base
			tt.mutate(&f)
			if _, err := r.Prepare(f, domain.RoleEmployer); !errors.Is(err, tt.want) {
				t.Fatalf("Prepare err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreate(t *testing.T) {
	users := userrepo.NewMemoryRepository()
	identities := identityrepo.NewMemoryRepository()
	hasher := security.NewHasher(4)
	r := NewRegistrar(users, identities, hasher)
	ctx := context.Background()
	form := SignupForm{Email: "jeanne@siae.fr", FirstName: "Jeanne", LastName: "Martin", Password1: goodPassword, Password2: goodPassword}

	a, err := r.Prepare(form, domain.RoleEmployer)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	u, err := r.Create(ctx, a)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.Role != domain.RoleEmployer || u.Status != domain.UserStatusActive {
		t.Errorf("user = %+v", u)
	}
	ident, err := identities.GetByUserAndProvider(ctx, u.ID, identitydomain.IdentityProviderLocal)
	if err != nil || ident == nil {
		t.Fatalf("identity not stored: %v", err)
	}
	if err := hasher.Verify(ident.PasswordHash, goodPassword); err != nil {
		t.Errorf("stored hash does not verify: %v", err)
	}

	again, err := r.Prepare(form, domain.RoleEmployer)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := r.Create(ctx, again); !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Fatalf("second Create err = %v, want ErrEmailAlreadyRegistered", err)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"inclusion-platform/backend/internal/audit"
	auditdomain "inclusion-platform/backend/internal/audit/domain"
	identitydomain "inclusion-platform/backend/internal/identity/domain"
	"inclusion-platform/backend/internal/notify"
	"inclusion-platform/backend/internal/security"
	userdomain "inclusion-platform/backend/internal/user/domain"
	userservice "inclusion-platform/backend/internal/user/service"
)

// ErrInvalidResetLink covers expired, forged, already used and orphaned reset links.
var ErrInvalidResetLink = errors.New("invalid or expired password reset link")

// PasswordResetUsers is the user lookup needed to reset passwords.
type PasswordResetUsers interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
}

// PasswordResetIdentities reads and replaces local password hashes.
type PasswordResetIdentities interface {
	GetByUserAndProvider(ctx context.Context, userID string, provider identitydomain.IdentityProvider) (*identitydomain.Identity, error)
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
}

// PasswordResetDeps are the collaborators of a PasswordResetService. Audit and Log may be nil.
type PasswordResetDeps struct {
	Users      PasswordResetUsers
	Identities PasswordResetIdentities
	Sessions   interface {
		RevokeAllSessionsByUser(ctx context.Context, userID string) error
	}
	Hasher    *security.Hasher
	Tokens    *security.TokenProvider
	Mailer    notify.Mailer
	Templates *notify.Templates
	Audit     audit.AuditLogger
	Log       *zap.Logger
	// BaseURL prefixes the reset link.
	BaseURL string
}

// PasswordResetService mails single-use reset links and applies new passwords.
type PasswordResetService struct {
	d PasswordResetDeps
}

// NewPasswordResetService returns a PasswordResetService over d.
func NewPasswordResetService(d PasswordResetDeps) *PasswordResetService {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &PasswordResetService{d: d}
}

// RequestReset mails a reset link when email belongs to an active user with a password.
// Unknown addresses succeed silently so the form does not reveal who has an account.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
	email = userdomain.NormalizeEmail(email)
	if email == "" {
		return nil
	}
	user, err := s.d.Users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		s.d.Log.Debug("password reset for unknown or inactive account")
		return nil
	}
	ident, err := s.d.Identities.GetByUserAndProvider(ctx, user.ID, identitydomain.IdentityProviderLocal)
	if err != nil {
		return err
	}
	if ident == nil || ident.PasswordHash == "" {
		return nil
	}
	issued, err := s.d.Tokens.IssuePasswordReset(user.ID, ident.PasswordHash)
	if err != nil {
		return fmt.Errorf("issue password reset token: %w", err)
	}
	msg, err := s.d.Templates.PasswordReset(user.Email, notify.PasswordResetData{
		FirstName: user.FirstName,
		Link:      s.d.BaseURL + "/password/reset/key/" + issued.Token,
		ExpiresAt: issued.ExpiresAt,
	})
	if err != nil {
		return err
	}
	if err := s.d.Mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send password reset email: %w", err)
	}
	s.logAudit(ctx, user.ID, audit.ActionPasswordResetSent, auditdomain.Metadata("email", user.Email))
	return nil
}

// CheckLink returns the user a reset link was issued to, or ErrInvalidResetLink.
func (s *PasswordResetService) CheckLink(ctx context.Context, token string) (*userdomain.User, error) {
	user, _, err := s.resolve(ctx, token)
	return user, err
}

func (s *PasswordResetService) resolve(ctx context.Context, token string) (*userdomain.User, *identitydomain.Identity, error) {
	claims, err := s.d.Tokens.ValidatePasswordReset(token)
	if err != nil {
		return nil, nil, ErrInvalidResetLink
	}
	user, err := s.d.Users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return nil, nil, ErrInvalidResetLink
	}
	ident, err := s.d.Identities.GetByUserAndProvider(ctx, user.ID, identitydomain.IdentityProviderLocal)
	if err != nil {
		return nil, nil, err
	}
	if ident == nil || !claims.Matches(ident.PasswordHash) {
		return nil, nil, ErrInvalidResetLink
	}
	return user, ident, nil
}

// ResetPassword sets a new password through a reset link and signs the user out everywhere.
// Password policy errors are those of the signup form.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, password1, password2 string) (*userdomain.User, error) {
	user, _, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if password1 != password2 {
		return nil, userservice.ErrPasswordMismatch
	}
	if err := security.ValidatePassword(password1, user.Email); err != nil {
		return nil, err
	}
	hash, err := s.d.Hasher.Hash(password1)
	if err != nil {
		return nil, err
	}
	if err := s.d.Identities.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return nil, err
	}
	if err := s.d.Sessions.RevokeAllSessionsByUser(ctx, user.ID); err != nil {
		s.d.Log.Error("revoke sessions after password reset", zap.String("user_id", user.ID), zap.Error(err))
	}
	s.logAudit(ctx, user.ID, audit.ActionPasswordReset, "")
	return user, nil
}

func (s *PasswordResetService) logAudit(ctx context.Context, userID, action, metadata string) {
	if s.d.Audit == nil {
		return
	}
	s.d.Audit.LogEvent(ctx, "", userID, action, audit.ResourceUser, metadata)
}

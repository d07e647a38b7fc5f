package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inclusion-platform/backend/internal/audit"
	auditdomain "inclusion-platform/backend/internal/audit/domain"
	identitydomain "inclusion-platform/backend/internal/identity/domain"
	membershipdomain "inclusion-platform/backend/internal/membership/domain"
	"inclusion-platform/backend/internal/security"
	"inclusion-platform/backend/internal/server/middleware"
	sessiondomain "inclusion-platform/backend/internal/session/domain"
	userdomain "inclusion-platform/backend/internal/user/domain"
)

// Sentinel errors for the auth service; handlers map them to form errors or 401.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrRefreshTokenReuse   = errors.New("refresh token reuse detected; all sessions revoked")
	ErrNotOrgMember        = errors.New("user is not a member of the organization")
	ErrSessionRevoked      = errors.New("session revoked or expired")
)

// AuthResult holds the outcome of Login, StartSession or Refresh.
type AuthResult struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	UserID           string
	OrgID            string
}

// Principal is the authenticated caller behind an access token.
type Principal struct {
	SessionID string
	UserID    string
	OrgID     string
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
}

// IdentityRepo is the minimal identity repository needed by the auth service.
type IdentityRepo interface {
	GetByUserAndProvider(ctx context.Context, userID string, provider identitydomain.IdentityProvider) (*identitydomain.Identity, error)
}

// SessionRepo is the minimal session repository needed by the auth service.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
	Create(ctx context.Context, s *sessiondomain.Session) error
	Revoke(ctx context.Context, id string) error
	RevokeAllSessionsByUser(ctx context.Context, userID string) error
	UpdateRefreshToken(ctx context.Context, sessionID, jti, refreshTokenHash string) error
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}

// MembershipRepo is the minimal membership repository needed by the auth service.
type MembershipRepo interface {
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error)
	ListMembershipsByUser(ctx context.Context, userID string) ([]*membershipdomain.Membership, error)
}

// AuthService implements password login, session start after signup, organization switching,
// refresh rotation and logout.
type AuthService struct {
	userRepo       UserRepo
	identityRepo   IdentityRepo
	sessionRepo    SessionRepo
	membershipRepo MembershipRepo
	hasher         *security.Hasher
	tokens         *security.TokenProvider
	auditLogger    audit.AuditLogger
	log            *zap.Logger
	now            func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies. auditLogger and log may be nil.
func NewAuthService(
	userRepo UserRepo,
	identityRepo IdentityRepo,
	sessionRepo SessionRepo,
	membershipRepo MembershipRepo,
	hasher *security.Hasher,
	tokens *security.TokenProvider,
	auditLogger audit.AuditLogger,
	log *zap.Logger,
) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		userRepo:       userRepo,
		identityRepo:   identityRepo,
		sessionRepo:    sessionRepo,
		membershipRepo: membershipRepo,
		hasher:         hasher,
		tokens:         tokens,
		auditLogger:    auditLogger,
		log:            log,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Login authenticates with email and password and opens a session in orgID.
// An empty orgID selects the user's oldest active membership, or no organization at all when the
// user has none (they can still accept an invitation).
func (s *AuthService) Login(ctx context.Context, email, password, orgID string) (*AuthResult, error) {
	email = userdomain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		s.logAudit(ctx, "", "", audit.ActionLoginFailure, auditdomain.Metadata("email", email))
		return nil, ErrInvalidCredentials
	}
	ident, err := s.identityRepo.GetByUserAndProvider(ctx, user.ID, identitydomain.IdentityProviderLocal)
	if err != nil {
		return nil, err
	}
	if ident == nil || ident.PasswordHash == "" {
		s.logAudit(ctx, "", user.ID, audit.ActionLoginFailure, "")
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Verify(ident.PasswordHash, password); err != nil {
		s.logAudit(ctx, "", user.ID, audit.ActionLoginFailure, "")
		return nil, ErrInvalidCredentials
	}
	orgID, err = s.resolveOrg(ctx, user.ID, orgID)
	if err != nil {
		return nil, err
	}
	res, err := s.StartSession(ctx, user.ID, orgID)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, orgID, user.ID, audit.ActionLogin, "")
	return res, nil
}

func (s *AuthService) resolveOrg(ctx context.Context, userID, orgID string) (string, error) {
	if orgID != "" {
		m, err := s.membershipRepo.GetMembershipByUserAndOrg(ctx, userID, orgID)
		if err != nil {
			return "", err
		}
		if m == nil || !m.IsActive {
			return "", ErrNotOrgMember
		}
		return orgID, nil
	}
	ms, err := s.membershipRepo.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(ms) == 0 {
		return "", nil
	}
	return ms[0].OrgID, nil
}

// StartSession opens a session for a user who just proved who they are (login, signup, invitation).
func (s *AuthService) StartSession(ctx context.Context, userID, orgID string) (*AuthResult, error) {
	sessionID := uuid.New().String()
	refresh, err := s.tokens.IssueRefresh(sessionID, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	access, err := s.tokens.IssueAccess(sessionID, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	now := s.now()
	sess := &sessiondomain.Session{
		ID:               sessionID,
		UserID:           userID,
		OrgID:            orgID,
		ExpiresAt:        refresh.ExpiresAt,
		IPAddress:        middleware.ClientIP(ctx),
		RefreshJti:       refresh.JTI,
		RefreshTokenHash: security.HashToken(refresh.Token),
		CreatedAt:        now,
	}
	if err := s.sessionRepo.Create(ctx, sess); err != nil {
		return nil, err
	}
	return &AuthResult{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		ExpiresAt:        access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		SessionID:        sessionID,
		UserID:           userID,
		OrgID:            orgID,
	}, nil
}

// Authenticate validates an access token and checks its session is still live.
// Removing a member revokes their sessions, so a still-valid token stops working at once.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := s.tokens.ValidateAccess(accessToken)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessionRepo.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || !sess.IsLive(s.now()) {
		return nil, ErrSessionRevoked
	}
	return &Principal{SessionID: claims.SessionID, UserID: claims.Subject, OrgID: claims.OrgID}, nil
}

// Refresh validates the refresh token, rotates it, and returns new tokens.
// Presenting an already rotated token revokes every session of the user.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}
	sess, err := s.sessionRepo.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if sess == nil || !sess.IsLive(now) {
		return nil, ErrInvalidRefreshToken
	}
	if sess.RefreshJti != claims.ID {
		if err := s.sessionRepo.RevokeAllSessionsByUser(ctx, sess.UserID); err != nil {
			s.log.Error("revoke sessions after refresh reuse", zap.String("user_id", sess.UserID), zap.Error(err))
		}
		return nil, ErrRefreshTokenReuse
	}
	if sess.RefreshTokenHash != "" && !security.TokenHashEqual(refreshToken, sess.RefreshTokenHash) {
		return nil, ErrInvalidRefreshToken
	}
	if sess.OrgID != "" {
		m, err := s.membershipRepo.GetMembershipByUserAndOrg(ctx, sess.UserID, sess.OrgID)
		if err != nil {
			return nil, err
		}
		if m == nil || !m.IsActive {
			_ = s.sessionRepo.Revoke(ctx, sess.ID)
			return nil, ErrNotOrgMember
		}
	}
	_ = s.sessionRepo.UpdateLastSeen(ctx, sess.ID, now)
	newRefresh, err := s.tokens.IssueRefresh(sess.ID, sess.UserID, sess.OrgID)
	if err != nil {
		return nil, err
	}
	if err := s.sessionRepo.UpdateRefreshToken(ctx, sess.ID, newRefresh.JTI, security.HashToken(newRefresh.Token)); err != nil {
		return nil, err
	}
	access, err := s.tokens.IssueAccess(sess.ID, sess.UserID, sess.OrgID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		AccessToken:      access.Token,
		RefreshToken:     newRefresh.Token,
		ExpiresAt:        access.ExpiresAt,
		RefreshExpiresAt: newRefresh.ExpiresAt,
		SessionID:        sess.ID,
		UserID:           sess.UserID,
		OrgID:            sess.OrgID,
	}, nil
}

// Logout revokes the session identified by the refresh token or, when it is empty,
// the session the auth middleware put in context. Otherwise no-op.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	sessionID, ok := middleware.GetSessionID(ctx)
	if refreshToken != "" {
		claims, err := s.tokens.ValidateRefresh(refreshToken)
		if err != nil {
			return nil
		}
		sessionID, ok = claims.SessionID, true
	}
	if !ok {
		return nil
	}
	if err := s.sessionRepo.Revoke(ctx, sessionID); err != nil {
		return err
	}
	userID, _ := middleware.GetUserID(ctx)
	orgID, _ := middleware.GetOrgID(ctx)
	s.logAudit(ctx, orgID, userID, audit.ActionLogout, auditdomain.Metadata("session_id", sessionID))
	return nil
}

// SwitchOrganization moves a logged-in user to another organization they are an active member of.
// The current session is revoked and a new one is opened in orgID.
func (s *AuthService) SwitchOrganization(ctx context.Context, sessionID, userID, orgID string) (*AuthResult, error) {
	if orgID == "" {
		return nil, ErrNotOrgMember
	}
	if _, err := s.resolveOrg(ctx, userID, orgID); err != nil {
		return nil, err
	}
	res, err := s.StartSession(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if sessionID != "" {
		if err := s.sessionRepo.Revoke(ctx, sessionID); err != nil {
			s.log.Warn("revoke session after organization switch", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	s.logAudit(ctx, orgID, userID, audit.ActionOrgSwitched, auditdomain.Metadata("session_id", res.SessionID))
	return res, nil
}

func (s *AuthService) logAudit(ctx context.Context, orgID, userID, action, metadata string) {
	if s.auditLogger == nil {
		return
	}
	s.auditLogger.LogEvent(ctx, orgID, userID, action, audit.ResourceSession, metadata)
}

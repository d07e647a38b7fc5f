package domain

import "time"

// Session is a login of a user into one organization. It is bound to the current refresh token.
type Session struct {
	ID               string
	UserID           string
	OrgID            string
	ExpiresAt        time.Time
	RevokedAt        *time.Time // nil when not revoked
	LastSeenAt       *time.Time
	IPAddress        string
	RefreshJti       string // current refresh token jti for rotation
	RefreshTokenHash string // SHA-256 hash of current refresh token
	CreatedAt        time.Time
}

// IsLive reports whether the session is neither revoked nor expired at now.
func (s *Session) IsLive(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

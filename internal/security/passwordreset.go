package security

import (
	"crypto/subtle"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultPasswordResetTTL = 24 * time.Hour

// PasswordResetClaims bind a reset link to a user and to the password hash they had when they
// asked for it. Setting a new password changes the hash, so a link works at most once.
type PasswordResetClaims struct {
	jwt.RegisteredClaims
	Purpose     string `json:"pur"`
	Fingerprint string `json:"fp"`
}

// passwordFingerprint is a short digest of a stored password hash; the hash itself never leaves
// the server.
func passwordFingerprint(passwordHash string) string {
	return HashToken(passwordHash)[:16]
}

// IssuePasswordReset signs a reset token for userID whose current stored hash is passwordHash.
func (p *TokenProvider) IssuePasswordReset(userID, passwordHash string) (IssuedToken, error) {
	ttl := p.cfg.PasswordResetTTL
	if ttl <= 0 {
		ttl = defaultPasswordResetTTL
	}
	claims := &PasswordResetClaims{Purpose: PurposePasswordReset, Fingerprint: passwordFingerprint(passwordHash)}
	claims.Subject = userID
	return p.issue(claims, &claims.RegisteredClaims, ttl)
}

// ValidatePasswordReset verifies a reset token. Whether it still matches the stored password is
// checked with Matches.
func (p *TokenProvider) ValidatePasswordReset(tokenString string) (*PasswordResetClaims, error) {
	claims := &PasswordResetClaims{}
	if err := p.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Purpose != PurposePasswordReset || claims.Subject == "" || claims.Fingerprint == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Matches reports whether the token was issued for passwordHash.
func (c *PasswordResetClaims) Matches(passwordHash string) bool {
	return subtle.ConstantTimeCompare([]byte(c.Fingerprint), []byte(passwordFingerprint(passwordHash))) == 1
}

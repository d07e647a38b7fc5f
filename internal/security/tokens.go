package security

import (
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails parsing, signature, expiry, issuer,
// audience or purpose checks. Callers never learn which check failed.
var ErrInvalidToken = errors.New("invalid token")

// Token purposes, carried in the "pur" claim so one kind of token cannot stand in for another.
const (
	PurposeAccess  = "access"
	PurposeRefresh = "refresh"
	PurposeSignup  = "signup"

	PurposePasswordReset = "password_reset"
)

// SessionClaims are the claims of access and refresh tokens.
type SessionClaims struct {
	jwt.RegisteredClaims
	Purpose   string `json:"pur"`
	SessionID string `json:"sid"`
	OrgID     string `json:"org_id,omitempty"`
}

// TokenConfig holds the issuer, audience and lifetimes of a TokenProvider.
type TokenConfig struct {
	Issuer       string
	Audience     string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	MagicLinkTTL time.Duration
	// PasswordResetTTL defaults to 24h when zero.
	PasswordResetTTL time.Duration
}

// TokenProvider signs and validates session tokens and signup magic links (RS256 or ES256).
type TokenProvider struct {
	signer crypto.Signer
	pub    crypto.PublicKey
	method jwt.SigningMethod
	cfg    TokenConfig
	now    func() time.Time
}

// NewTokenProvider returns a provider signing with signer and verifying with pub.
func NewTokenProvider(signer crypto.Signer, pub crypto.PublicKey, cfg TokenConfig) *TokenProvider {
	var method jwt.SigningMethod
	switch KeyAlg(signer.Public()) {
	case "RS256":
		method = jwt.SigningMethodRS256
	case "ES256":
		method = jwt.SigningMethodES256
	}
	return &TokenProvider{signer: signer, pub: pub, method: method, cfg: cfg, now: time.Now}
}

// IssuedToken is a signed token with its id and expiry.
type IssuedToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// IssueAccess issues a short-lived access token for a session.
func (p *TokenProvider) IssueAccess(sessionID, userID, orgID string) (IssuedToken, error) {
	return p.issueSession(PurposeAccess, p.cfg.AccessTTL, sessionID, userID, orgID)
}

// IssueRefresh issues a refresh token. Its JTI is bound to the session for rotation.
func (p *TokenProvider) IssueRefresh(sessionID, userID, orgID string) (IssuedToken, error) {
	return p.issueSession(PurposeRefresh, p.cfg.RefreshTTL, sessionID, userID, orgID)
}

func (p *TokenProvider) issueSession(purpose string, ttl time.Duration, sessionID, userID, orgID string) (IssuedToken, error) {
	claims := &SessionClaims{Purpose: purpose, SessionID: sessionID, OrgID: orgID}
	claims.Subject = userID
	return p.issue(claims, &claims.RegisteredClaims, ttl)
}

func (p *TokenProvider) issue(claims jwt.Claims, reg *jwt.RegisteredClaims, ttl time.Duration) (IssuedToken, error) {
	if p.method == nil {
		return IssuedToken{}, ErrInvalidKey
	}
	jti, err := newJTI()
	if err != nil {
		return IssuedToken{}, err
	}
	now := p.now().UTC()
	exp := now.Add(ttl)
	reg.ID = jti
	reg.Issuer = p.cfg.Issuer
	reg.Audience = jwt.ClaimStrings{p.cfg.Audience}
	reg.IssuedAt = jwt.NewNumericDate(now)
	reg.ExpiresAt = jwt.NewNumericDate(exp)
	signed, err := jwt.NewWithClaims(p.method, claims).SignedString(p.signer)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: signed, JTI: jti, ExpiresAt: exp}, nil
}

// parse verifies signature, algorithm, expiry, issuer and audience, then decodes into claims.
func (p *TokenProvider) parse(tokenString string, claims jwt.Claims) error {
	if p.method == nil {
		return ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return p.pub, nil },
		jwt.WithValidMethods([]string{p.method.Alg()}),
		jwt.WithIssuer(p.cfg.Issuer),
		jwt.WithAudience(p.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

func (p *TokenProvider) validateSession(tokenString, purpose string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := p.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Purpose != purpose || claims.SessionID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateAccess returns the claims of a valid access token.
func (p *TokenProvider) ValidateAccess(tokenString string) (*SessionClaims, error) {
	return p.validateSession(tokenString, PurposeAccess)
}

// ValidateRefresh returns the claims of a valid refresh token; claims.ID is the JTI to match
// against the session.
func (p *TokenProvider) ValidateRefresh(tokenString string) (*SessionClaims, error) {
	claims, err := p.validateSession(tokenString, PurposeRefresh)
	if err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RefreshLifetime is the refresh token TTL, used for cookie max-age.
func (p *TokenProvider) RefreshLifetime() time.Duration { return p.cfg.RefreshTTL }

// AccessLifetime is the access token TTL.
func (p *TokenProvider) AccessLifetime() time.Duration { return p.cfg.AccessTTL }

func newJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

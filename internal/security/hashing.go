package security

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted at signup.
const MinPasswordLength = 8

var (
	ErrPasswordTooShort  = errors.New("password is too short")
	ErrPasswordNumeric   = errors.New("password is entirely numeric")
	ErrPasswordCommon    = errors.New("password is too common")
	ErrPasswordLikeEmail = errors.New("password is too similar to the email address")
	ErrPasswordIncorrect = errors.New("password does not match")
)

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {}, "motdepasse": {}, "azertyuiop": {},
	"qwertyuiop": {}, "123456789": {}, "12345678": {}, "iloveyou": {}, "sunshine": {},
	"football": {}, "baseball": {}, "welcome1": {}, "letmein1": {}, "bonjour1": {},
	"soleil123": {}, "doudou123": {}, "marseille": {}, "loulou123": {}, "chouchou": {},
}

// Hasher hashes and verifies passwords with bcrypt. Plaintext passwords are never logged or stored.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with cost clamped to bcrypt's accepted range; zero means bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	switch {
	case cost <= 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash returns the bcrypt hash of password for storage.
func (h *Hasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify returns ErrPasswordIncorrect when password does not match hash.
func (h *Hasher) Verify(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordIncorrect
	}
	return err
}

// ValidatePassword applies the signup password policy. email may be empty.
func ValidatePassword(password, email string) error {
	if len([]rune(password)) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	allDigits := true
	for _, r := range password {
		if !unicode.IsDigit(r) {
			allDigits = false
			break
		}
	}
	if allDigits {
		return ErrPasswordNumeric
	}
	lower := strings.ToLower(password)
	if _, ok := commonPasswords[lower]; ok {
		return ErrPasswordCommon
	}
	local, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(email)), "@")
	if len(local) >= 4 && (strings.Contains(lower, local) || strings.Contains(local, lower)) {
		return ErrPasswordLikeEmail
	}
	return nil
}

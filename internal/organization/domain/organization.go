package domain

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Org is a structure staff can join: an SIAE employer, a prescriber organization or an institution.
type Org struct {
	ID        string
	Name      string
	Category  Category
	Kind      Kind
	Siret     string // 14 digits, or empty
	AuthEmail string // receives signup magic links when the org has no members
	// SecretCode lets prescribers join without a magic link; members share it with colleagues.
	// Only prescriber organizations have one.
	SecretCode string
	Status     OrgStatus
	// MembersVersion is bumped on every membership change; magic links bind to it.
	MembersVersion int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type OrgStatus string

const (
	OrgStatusActive   OrgStatus = "active"
	OrgStatusInactive OrgStatus = "inactive"
)

// Category groups kinds and decides the role of the staff who join.
type Category string

const (
	CategorySiae        Category = "siae"
	CategoryPrescriber  Category = "prescriber"
	CategoryInstitution Category = "institution"
)

// Kind is the legal kind of an organization inside its category.
type Kind string

// SIAE kinds.
const (
	KindEI     Kind = "EI"
	KindAI     Kind = "AI"
	KindACI    Kind = "ACI"
	KindACIPHC Kind = "ACIPHC"
	KindETTI   Kind = "ETTI"
	KindEITI   Kind = "EITI"
	KindGEIQ   Kind = "GEIQ"
	KindEA     Kind = "EA"
	KindEATT   Kind = "EATT"
)

// Prescriber kinds.
const (
	KindPE        Kind = "PE"
	KindCapEmploi Kind = "CAP_EMPLOI"
	KindML        Kind = "ML"
	KindDept      Kind = "DEPT"
	KindSPIP      Kind = "SPIP"
	KindPJJ       Kind = "PJJ"
	KindCCAS      Kind = "CCAS"
	KindPLIE      Kind = "PLIE"
	KindCHRS      Kind = "CHRS"
	KindCIDFF     Kind = "CIDFF"
	KindOther     Kind = "OTHER"
)

// Institution kinds.
const (
	KindDDETS  Kind = "DDETS"
	KindDREETS Kind = "DREETS"
	KindDGEFP  Kind = "DGEFP"
)

var kindsByCategory = map[Category][]Kind{
	CategorySiae:        {KindEI, KindAI, KindACI, KindACIPHC, KindETTI, KindEITI, KindGEIQ, KindEA, KindEATT},
	CategoryPrescriber:  {KindPE, KindCapEmploi, KindML, KindDept, KindSPIP, KindPJJ, KindCCAS, KindPLIE, KindCHRS, KindCIDFF, KindOther},
	CategoryInstitution: {KindDDETS, KindDREETS, KindDGEFP},
}

var (
	ErrUnknownKind     = errors.New("unknown organization kind")
	ErrUnknownCategory = errors.New("unknown organization category")
	ErrInvalidSiret    = errors.New("siret must be exactly 14 digits")
)

// SecretCodeLength is the length of an organization secret code.
const SecretCodeLength = 8

// secretCodeAlphabet leaves out 0, O, 1 and I, which read alike.
const secretCodeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// NewSecretCode returns a random code of SecretCodeLength characters.
func NewSecretCode() (string, error) {
	b := make([]byte, SecretCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = secretCodeAlphabet[int(b[i])%len(secretCodeAlphabet)]
	}
	return string(b), nil
}

// NormalizeSecretCode trims and upper-cases a code typed by a user.
func NormalizeSecretCode(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}

// Kinds returns the kinds of a category in display order.
func Kinds(c Category) []Kind {
	return append([]Kind(nil), kindsByCategory[c]...)
}

// CategoryOf returns the category a kind belongs to.
func CategoryOf(k Kind) (Category, error) {
	for c, kinds := range kindsByCategory {
		for _, candidate := range kinds {
			if candidate == k {
				return c, nil
			}
		}
	}
	return "", ErrUnknownKind
}

// ParseKind normalizes s (trimmed, upper-cased) and checks it is a known kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if _, err := CategoryOf(k); err != nil {
		return "", err
	}
	return k, nil
}

// ParseCategory checks s is a known category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := kindsByCategory[c]; !ok {
		return "", ErrUnknownCategory
	}
	return c, nil
}

// NormalizeSiret strips spaces and checks the result is empty or 14 digits.
func NormalizeSiret(s string) (string, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" {
		return "", nil
	}
	if len(s) != 14 {
		return "", ErrInvalidSiret
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", ErrInvalidSiret
		}
	}
	return s, nil
}

// IsActive reports whether staff can join the organization.
func (o *Org) IsActive() bool {
	return o.Status == OrgStatusActive
}

// DisplayName is the name shown in pages and emails.
func (o *Org) DisplayName() string {
	return strings.TrimSpace(o.Name)
}

// ObfuscatedAuthEmail masks the local part of AuthEmail, keeping its first and last characters.
// "contact@siae.fr" becomes "c*****t@siae.fr".
func (o *Org) ObfuscatedAuthEmail() string {
	local, domain, ok := strings.Cut(o.AuthEmail, "@")
	if !ok {
		return ""
	}
	r := []rune(local)
	if len(r) <= 2 {
		return strings.Repeat("*", len(r)) + "@" + domain
	}
	return string(r[0]) + strings.Repeat("*", len(r)-2) + string(r[len(r)-1]) + "@" + domain
}

// Validate validates the organization for persistence. Returns an error describing the first validation failure.
func (o *Org) Validate() error {
	if strings.TrimSpace(o.Name) == "" {
		return errors.New("name is required")
	}
	c, err := CategoryOf(o.Kind)
	if err != nil {
		return err
	}
	if o.Category == "" {
		o.Category = c
	}
	if o.Category != c {
		return fmt.Errorf("kind %s does not belong to category %s", o.Kind, o.Category)
	}
	siret, err := NormalizeSiret(o.Siret)
	if err != nil {
		return err
	}
	o.Siret = siret
	o.AuthEmail = strings.ToLower(strings.TrimSpace(o.AuthEmail))
	if o.Status == "" {
		o.Status = OrgStatusActive
	}
	o.SecretCode = NormalizeSecretCode(o.SecretCode)
	switch {
	case o.Category != CategoryPrescriber:
		o.SecretCode = ""
	case o.SecretCode == "":
		if o.SecretCode, err = NewSecretCode(); err != nil {
			return fmt.Errorf("secret code: %w", err)
		}
	}
	return nil
}

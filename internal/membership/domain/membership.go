package domain

import (
	"errors"
	"sort"
	"time"
)

// Membership links a user to an organization. A removed member keeps its row with IsActive false
// so that a later invitation can reactivate it.
type Membership struct {
	ID        string
	UserID    string
	OrgID     string
	IsAdmin   bool
	IsActive  bool
	JoinedAt  time.Time
	UpdatedAt time.Time
}

// Validate validates the membership for persistence.
func (m *Membership) Validate() error {
	if m.UserID == "" || m.OrgID == "" {
		return errors.New("user_id and org_id are required")
	}
	return nil
}

// SortForDisplay orders memberships admin first, then by join date.
func SortForDisplay(ms []*Membership) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].IsAdmin != ms[j].IsAdmin {
			return ms[i].IsAdmin
		}
		return ms[i].JoinedAt.Before(ms[j].JoinedAt)
	})
}

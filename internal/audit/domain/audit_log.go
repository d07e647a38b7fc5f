package domain

import (
	"encoding/json"
	"time"
)

// AuditLog is one recorded domain action. OrgID is "_system" when no organization applies.
type AuditLog struct {
	ID        string
	OrgID     string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string // JSON object
	CreatedAt time.Time
}

// Metadata encodes alternating key/value pairs as a JSON object. A trailing key without value is dropped.
func Metadata(kv ...string) string {
	if len(kv) < 2 {
		return ""
	}
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

package middleware

import (
	"context"
	"testing"
)

func TestWithIdentity_SetsAllValues(t *testing.T) {
	ctx := WithIdentity(context.Background(), "user-1", "org-1", "session-1")

	if v, ok := GetUserID(ctx); !ok || v != "user-1" {
		t.Errorf("GetUserID = %q, %v; want user-1, true", v, ok)
	}
	if v, ok := GetOrgID(ctx); !ok || v != "org-1" {
		t.Errorf("GetOrgID = %q, %v; want org-1, true", v, ok)
	}
	if v, ok := GetSessionID(ctx); !ok || v != "session-1" {
		t.Errorf("GetSessionID = %q, %v; want session-1, true", v, ok)
	}
}

func TestGetters_FalseWhenUnsetOrEmpty(t *testing.T) {
	ctx := context.Background()
	if _, ok := GetUserID(ctx); ok {
		t.Error("GetUserID should return false when not set")
	}
	ctx = WithIdentity(ctx, "user-1", "", "")
	if _, ok := GetOrgID(ctx); ok {
		t.Error("GetOrgID should return false for an empty org")
	}
	if _, ok := GetSessionID(ctx); ok {
		t.Error("GetSessionID should return false for an empty session")
	}
}

func TestClientIP(t *testing.T) {
	if got := ClientIP(context.Background()); got != "unknown" {
		t.Errorf("ClientIP = %q, want unknown", got)
	}
	ctx := WithClientIP(context.Background(), "203.0.113.7")
	if got := ClientIP(ctx); got != "203.0.113.7" {
		t.Errorf("ClientIP = %q, want 203.0.113.7", got)
	}
}

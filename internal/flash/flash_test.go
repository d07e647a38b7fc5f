package flash

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
)

func TestMemoryStore_AddPop(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	if err := s.Add(ctx, "k", Message{Level: LevelError, Text: "lien invalide"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(ctx, "k", Message{Level: LevelInfo, Text: "second"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, err := s.Pop(ctx, "k")
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if len(got) != 2 || got[0].Text != "lien invalide" || got[1].Level != LevelInfo {
		t.Fatalf("Pop = %+v", got)
	}
	again, _ := s.Pop(ctx, "k")
	if len(again) != 0 {
		t.Errorf("second Pop = %+v, want empty", again)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	now := time.Now()
	s.nowF = func() time.Time { return now }
	ctx := context.Background()
	_ = s.Add(ctx, "k", Message{Level: LevelInfo, Text: "old"})
	now = now.Add(2 * time.Minute)
	got, err := s.Pop(ctx, "k")
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expired messages returned: %+v", got)
	}
}

func TestMemoryStore_KeysAreIsolated(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	_ = s.Add(ctx, "a", Message{Text: "for a"})
	got, _ := s.Pop(ctx, "b")
	if len(got) != 0 {
		t.Errorf("Pop(b) = %+v, want empty", got)
	}
}

func TestRedisStore_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, addr, os.Getenv("REDIS_PASSWORD"), 0)
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer client.Close()

	s := NewRedisStore(client, time.Minute)
	key := uuid.NewString()
	if err := s.Add(ctx, key, Message{Level: LevelSuccess, Text: "un"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(ctx, key, Message{Level: LevelSuccess, Text: "deux"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, err := s.Pop(ctx, key)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if len(got) != 2 || got[0].Text != "un" || got[1].Text != "deux" {
		t.Fatalf("Pop = %+v", got)
	}
	got, err = s.Pop(ctx, key)
	if err != nil {
		t.Fatalf("second Pop: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("second Pop = %+v, want empty", got)
	}
}

func TestRedisStore_AddPopAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	client, err := NewRedisClient(ctx, mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer client.Close()
	s := NewRedisStore(client, time.Minute)

	_ = s.Add(ctx, "k", Message{Level: LevelError, Text: "lien invalide"})
	_ = s.Add(ctx, "k", Message{Level: LevelInfo, Text: "second"})
	if ttl := mr.TTL(redisKeyPrefix + "k"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}
	got, err := s.Pop(ctx, "k")
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if len(got) != 2 || got[0].Text != "lien invalide" || got[1].Level != LevelInfo {
		t.Fatalf("Pop = %+v", got)
	}
	if mr.Exists(redisKeyPrefix + "k") {
		t.Error("Pop should delete the list")
	}

	_ = s.Add(ctx, "old", Message{Text: "périmé"})
	mr.FastForward(2 * time.Minute)
	if got, _ := s.Pop(ctx, "old"); len(got) != 0 {
		t.Errorf("expired Pop = %+v, want empty", got)
	}
}

package memory

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"attobot/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "attobot.db"), slog.Default())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestConversationLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv := domain.Conversation{ID: "cli:direct", Title: "CLI chat", Provider: "openai", Model: "gpt-4o-mini"}
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Idempotent create
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("second create: %v", err)
	}

	got, err := store.GetConversation(ctx, "cli:direct")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Title != "CLI chat" {
		t.Fatalf("unexpected conversation: %+v", got)
	}

	missing, err := store.GetConversation(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("missing conversation should be (nil, nil), got %+v %v", missing, err)
	}

	if err := store.DeleteConversation(ctx, "cli:direct"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = store.GetConversation(ctx, "cli:direct")
	if got != nil {
		t.Fatal("conversation should be gone")
	}
}

func TestMessagesOrderAndTrim(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateConversation(ctx, domain.Conversation{ID: "c1"}); err != nil {
		t.Fatal(err)
	}
	for _, content := range []string{"one", "two", "three", "four"} {
		if err := store.AddMessage(ctx, "c1", domain.MessageRecord{Role: "user", Content: content}); err != nil {
			t.Fatalf("add %q: %v", content, err)
		}
	}

	msgs, err := store.GetMessages(ctx, "c1", 3)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(msgs) != 3 || msgs[0].Content != "two" || msgs[2].Content != "four" {
		t.Fatalf("expected last three oldest-first, got %+v", msgs)
	}

	n, err := store.CountMessages(ctx, "c1")
	if err != nil || n != 4 {
		t.Fatalf("count = %d, %v", n, err)
	}

	if err := store.DeleteMessagesBefore(ctx, "c1", msgs[0].ID); err != nil {
		t.Fatalf("trim: %v", err)
	}
	n, _ = store.CountMessages(ctx, "c1")
	if n != 3 {
		t.Fatalf("expected 3 messages after trim, got %d", n)
	}
}

func TestMemorySearchAndExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	entries := []domain.MemoryEntry{
		{Category: "fact", Content: "user prefers metric units", Importance: 7},
		{Category: "fact", Content: "user lives in Hanoi", Importance: 5},
		{Category: "summary", Content: "talked about metric conversions", Importance: 3, ExpiresAt: &past},
	}
	for _, e := range entries {
		if err := store.SaveMemory(ctx, e); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	found, err := store.SearchMemories(ctx, "metric", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 || found[0].Content != "user prefers metric units" {
		t.Fatalf("expected one unexpired hit, got %+v", found)
	}

	recent, err := store.GetRecentMemories(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 unexpired memories, got %d", len(recent))
	}
}

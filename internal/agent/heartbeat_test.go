package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"attobot/internal/domain"
)

func TestHeartbeatTickRunsCliTurn(t *testing.T) {
	provider := &fakeProvider{respond: func(_ int, _ domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: "handled"}, nil
	}}
	loop, _, store := newTestLoop(t, provider, 10)

	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "HEARTBEAT.md"), []byte("- check the build\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var result string
	h := NewHeartbeat(loop, ws, 1800, nil)
	h.OnResult = func(r string) { result = r }
	h.tick(context.Background())

	if result != "handled" {
		t.Fatalf("got result %q", result)
	}

	// Heartbeat turns run as a normal cli session, not through the
	// system-message path.
	msgs, _ := store.GetMessages(context.Background(), "cli:heartbeat", 10)
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("unexpected saved history: %+v", msgs)
	}
	if strings.HasPrefix(msgs[0].Content, "[System] ") {
		t.Fatalf("heartbeat turn used the system path: %q", msgs[0].Content)
	}
}

func TestHeartbeatSkipsNonActionableFile(t *testing.T) {
	provider := &fakeProvider{respond: func(_ int, _ domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: "should not be called"}, nil
	}}
	loop, _, _ := newTestLoop(t, provider, 10)

	ws := t.TempDir()
	content := "# Heartbeat\n<!-- notes -->\n- [ ]\n\n"
	if err := os.WriteFile(filepath.Join(ws, "HEARTBEAT.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	h := NewHeartbeat(loop, ws, 1800, nil)
	h.tick(context.Background())

	if provider.calls != 0 {
		t.Fatalf("idle heartbeat made %d model calls", provider.calls)
	}
}

func TestHeartbeatMissingFileIsIdle(t *testing.T) {
	provider := &fakeProvider{respond: func(_ int, _ domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: "should not be called"}, nil
	}}
	loop, _, _ := newTestLoop(t, provider, 10)

	h := NewHeartbeat(loop, t.TempDir(), 1800, nil)
	h.tick(context.Background())

	if provider.calls != 0 {
		t.Fatalf("heartbeat fired without a HEARTBEAT.md, %d model calls", provider.calls)
	}
}

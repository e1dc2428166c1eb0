package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"attobot/internal/bus"
	"attobot/internal/domain"
	"attobot/internal/tool"
)

// fakeStore is an in-memory MemoryStore for loop tests.
type fakeStore struct {
	mu       sync.Mutex
	convs    map[string]domain.Conversation
	messages map[string][]domain.MessageRecord
	memories []domain.MemoryEntry
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs:    make(map[string]domain.Conversation),
		messages: make(map[string][]domain.MessageRecord),
	}
}

func (s *fakeStore) CreateConversation(_ context.Context, conv domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conv.ID] = conv
	return nil
}

func (s *fakeStore) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *fakeStore) ListConversations(_ context.Context, _ int) ([]domain.Conversation, error) {
	return nil, nil
}

func (s *fakeStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, id)
	delete(s.messages, id)
	return nil
}

func (s *fakeStore) AddMessage(_ context.Context, convID string, msg domain.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	msg.ConversationID = convID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages[convID] = append(s.messages[convID], msg)
	return nil
}

func (s *fakeStore) GetMessages(_ context.Context, convID string, limit int) ([]domain.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[convID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.MessageRecord, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *fakeStore) CountMessages(_ context.Context, convID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[convID]), nil
}

func (s *fakeStore) DeleteMessagesBefore(_ context.Context, convID string, beforeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.MessageRecord
	for _, m := range s.messages[convID] {
		if m.ID >= beforeID {
			kept = append(kept, m)
		}
	}
	s.messages[convID] = kept
	return nil
}

func (s *fakeStore) SaveMemory(_ context.Context, mem domain.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories = append(s.memories, mem)
	return nil
}

func (s *fakeStore) SearchMemories(_ context.Context, _ string, _ int) ([]domain.MemoryEntry, error) {
	return nil, nil
}

func (s *fakeStore) GetRecentMemories(_ context.Context, _ int) ([]domain.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MemoryEntry, len(s.memories))
	copy(out, s.memories)
	return out, nil
}

func (s *fakeStore) Close() error { return nil }

// fakeProvider invokes respond with a 1-based call counter.
type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	respond func(call int, req domain.ChatRequest) (*domain.ChatResponse, error)
}

func (p *fakeProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()
	return p.respond(n, req)
}

func (p *fakeProvider) Name() string                    { return "fake" }
func (p *fakeProvider) Models() []string                { return []string{"fake-model"} }
func (p *fakeProvider) SupportsToolCalling() bool       { return true }
func (p *fakeProvider) Healthy(_ context.Context) error { return nil }

type noopTool struct{}

func (noopTool) Name() string               { return "noop" }
func (noopTool) Description() string        { return "does nothing" }
func (noopTool) Parameters() map[string]any { return tool.ToolParameters(nil, nil) }
func (noopTool) Execute(_ context.Context, _ map[string]any) (string, error) {
	return "done", nil
}

func newTestLoop(t *testing.T, provider domain.Provider, maxIterations int) (*AgentLoop, *bus.MessageBus, *fakeStore) {
	t.Helper()
	b := bus.New(nil)
	store := newFakeStore()
	sessions := NewSessionManager(store, nil)
	prompts := NewPromptBuilder(PromptConfig{Workspace: t.TempDir()}, store, nil)
	registry := tool.NewRegistry(nil)
	registry.Register(noopTool{})
	loop := New(Config{
		Model:         "fake-model",
		MaxIterations: maxIterations,
		MemoryWindow:  50,
	}, b, provider, registry, sessions, prompts, nil)
	return loop, b, store
}

func TestProcessDirectPlainReply(t *testing.T) {
	provider := &fakeProvider{respond: func(_ int, _ domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: "hello there"}, nil
	}}
	loop, _, store := newTestLoop(t, provider, 10)

	got := loop.ProcessDirect(context.Background(), "hi", "cli", "direct")
	if got != "hello there" {
		t.Fatalf("got %q", got)
	}

	msgs, _ := store.GetMessages(context.Background(), "cli:direct", 10)
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("unexpected saved history: %+v", msgs)
	}
}

func TestToolCallLoop(t *testing.T) {
	provider := &fakeProvider{respond: func(call int, req domain.ChatRequest) (*domain.ChatResponse, error) {
		if call == 1 {
			return &domain.ChatResponse{ToolCalls: []domain.ToolCall{
				{ID: "t1", Name: "noop", Arguments: map[string]any{}},
			}}, nil
		}
		// Second call must see the tool result in history.
		for _, m := range req.Messages {
			if m.Role == "tool" && m.Content == "done" {
				return &domain.ChatResponse{Content: "tool ran"}, nil
			}
		}
		return &domain.ChatResponse{Content: "missing tool result"}, nil
	}}
	loop, _, _ := newTestLoop(t, provider, 10)

	got := loop.ProcessDirect(context.Background(), "run it", "cli", "direct")
	if got != "tool ran" {
		t.Fatalf("got %q", got)
	}
}

func TestMaxIterationsFallback(t *testing.T) {
	provider := &fakeProvider{respond: func(_ int, _ domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{ToolCalls: []domain.ToolCall{
			{ID: "t", Name: "noop", Arguments: map[string]any{}},
		}}, nil
	}}
	loop, _, _ := newTestLoop(t, provider, 2)

	got := loop.ProcessDirect(context.Background(), "loop forever", "cli", "direct")
	if got != emptyTurnReply {
		t.Fatalf("got %q", got)
	}
}

func TestCommands(t *testing.T) {
	provider := &fakeProvider{respond: func(_ int, _ domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: "model reply"}, nil
	}}
	loop, _, store := newTestLoop(t, provider, 10)
	ctx := context.Background()

	if got := loop.ProcessDirect(ctx, "  /HELP  ", "cli", "direct"); !strings.Contains(got, "/new") {
		t.Fatalf("help: got %q", got)
	}
	if got := loop.ProcessDirect(ctx, "/stop", "cli", "direct"); got != "No active task is running." {
		t.Fatalf("stop idle: got %q", got)
	}

	loop.ProcessDirect(ctx, "remember this", "cli", "direct")
	if got := loop.ProcessDirect(ctx, "/new", "cli", "direct"); got != "New session started." {
		t.Fatalf("new: got %q", got)
	}
	if n, _ := store.CountMessages(ctx, "cli:direct"); n != 0 {
		t.Fatalf("expected cleared history, have %d messages", n)
	}

	// "/help more words" is not a command.
	if got := loop.ProcessDirect(ctx, "/help me write a poem", "cli", "direct"); got != "model reply" {
		t.Fatalf("non-command: got %q", got)
	}
}

func TestCancellationLatency(t *testing.T) {
	var busRef *bus.MessageBus

	provider := &fakeProvider{respond: func(call int, _ domain.ChatRequest) (*domain.ChatResponse, error) {
		if call == 1 {
			// Simulate traffic arriving mid-turn: one message for
			// another session, then a /stop for the active one.
			busRef.PublishInbound(domain.InboundMessage{
				Channel: "telegram", ChatID: "42", SenderID: "u", Content: "unrelated",
			})
			busRef.PublishInbound(domain.InboundMessage{
				Channel: "cli", ChatID: "direct", SenderID: "u", Content: "/stop",
			})
		}
		return &domain.ChatResponse{ToolCalls: []domain.ToolCall{
			{ID: "t", Name: "noop", Arguments: map[string]any{}},
		}}, nil
	}}

	loop, b, _ := newTestLoop(t, provider, 10)
	busRef = b

	got := loop.ProcessDirect(context.Background(), "long task", "cli", "direct")
	if got != stoppedSentinel {
		t.Fatalf("got %q, want %q", got, stoppedSentinel)
	}
	if provider.calls != 1 {
		t.Fatalf("expected cancellation after one model call, got %d calls", provider.calls)
	}

	// The unrelated message must still be deliverable.
	deadline := time.Now().Add(time.Second)
	for {
		msg, ok := b.TryConsumeInbound()
		if ok && msg.Channel == "telegram" && msg.Content == "unrelated" {
			break
		}
		if ok {
			b.PublishInbound(msg)
		}
		if time.Now().After(deadline) {
			t.Fatal("deferred message for other session was lost")
		}
		time.Sleep(time.Millisecond)
	}

	// Flags are cleared at scope exit: a fresh turn runs normally.
	provider.respond = func(_ int, _ domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: "back to work"}, nil
	}
	if got := loop.ProcessDirect(context.Background(), "next", "cli", "direct"); got != "back to work" {
		t.Fatalf("post-cancel turn: got %q", got)
	}
}

func TestSystemMessageRouting(t *testing.T) {
	provider := &fakeProvider{respond: func(_ int, req domain.ChatRequest) (*domain.ChatResponse, error) {
		last := req.Messages[len(req.Messages)-1]
		if !strings.Contains(last.Content, "subagent result payload") {
			t.Errorf("system content not routed into turn: %q", last.Content)
		}
		return &domain.ChatResponse{Content: "summarized"}, nil
	}}
	loop, _, store := newTestLoop(t, provider, 10)

	out := loop.processMessage(context.Background(), domain.InboundMessage{
		Channel:  "system",
		SenderID: "subagent",
		ChatID:   "telegram:99",
		Content:  "subagent result payload",
	}, "")
	if out == nil || out.Channel != "telegram" || out.ChatID != "99" || out.Content != "summarized" {
		t.Fatalf("unexpected outbound: %+v", out)
	}

	msgs, _ := store.GetMessages(context.Background(), "telegram:99", 10)
	if len(msgs) != 2 || !strings.HasPrefix(msgs[0].Content, "[System] ") {
		t.Fatalf("unexpected saved history: %+v", msgs)
	}
}

func TestShutdownSentinelExitsRun(t *testing.T) {
	provider := &fakeProvider{respond: func(_ int, _ domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: "ok"}, nil
	}}
	loop, _, _ := newTestLoop(t, provider, 10)

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	loop.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit on shutdown sentinel")
	}
}

func TestConsolidation(t *testing.T) {
	provider := &fakeProvider{respond: func(_ int, _ domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: "r"}, nil
	}}
	loop, _, store := newTestLoop(t, provider, 10)
	loop.cfg.MemoryWindow = 4
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		loop.ProcessDirect(ctx, "msg", "cli", "direct")
	}

	n, _ := store.CountMessages(ctx, "cli:direct")
	if n > 4+2 {
		t.Fatalf("history not trimmed: %d messages", n)
	}
	mems, _ := store.GetRecentMemories(ctx, 10)
	if len(mems) == 0 || mems[0].Category != "summary" {
		t.Fatalf("expected summary memory, got %+v", mems)
	}
}

package agent

import (
	"errors"
	"strings"
	"testing"
	"time"

	"attobot/internal/bus"
	"attobot/internal/domain"
	"attobot/internal/tool"
)

func newTestSubagentManager(t *testing.T, provider domain.Provider) (*SubagentManager, *bus.MessageBus) {
	t.Helper()
	b := bus.New(nil)
	newTools := func() *tool.Registry {
		r := tool.NewRegistry(nil)
		r.Register(noopTool{})
		return r
	}
	m := NewSubagentManager(provider, b, newTools, t.TempDir(), Config{
		Model:         "fake-model",
		MaxIterations: 15,
	}, nil)
	return m, b
}

func waitForSystemMessage(t *testing.T, b *bus.MessageBus) domain.InboundMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msg, ok := b.TryConsumeInbound(); ok {
			return msg
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no system message arrived")
	return domain.InboundMessage{}
}

func TestSubagentResultRoundTrip(t *testing.T) {
	provider := &fakeProvider{respond: func(_ int, _ domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: "the answer is 42"}, nil
	}}
	m, b := newTestSubagentManager(t, provider)

	ack := m.Spawn("summarize X", "sum", "cli", "direct")
	if !strings.Contains(ack, "Subagent [sum] started") {
		t.Fatalf("ack: %q", ack)
	}

	msg := waitForSystemMessage(t, b)
	if msg.Channel != "system" || msg.ChatID != "cli:direct" {
		t.Fatalf("unexpected routing: %+v", msg)
	}
	if !strings.Contains(msg.Content, "completed successfully") {
		t.Fatalf("missing status marker: %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "Task: summarize X") {
		t.Fatalf("missing task text: %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "the answer is 42") {
		t.Fatalf("missing result: %q", msg.Content)
	}
}

func TestSubagentFailureReported(t *testing.T) {
	provider := &fakeProvider{respond: func(_ int, _ domain.ChatRequest) (*domain.ChatResponse, error) {
		return nil, errors.New("backend unreachable")
	}}
	m, b := newTestSubagentManager(t, provider)

	m.Spawn("doomed task", "", "telegram", "7")

	msg := waitForSystemMessage(t, b)
	if msg.ChatID != "telegram:7" {
		t.Fatalf("unexpected routing: %+v", msg)
	}
	if !strings.Contains(msg.Content, "failed") {
		t.Fatalf("missing failure marker: %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "backend unreachable") {
		t.Fatalf("missing error detail: %q", msg.Content)
	}
}

func TestSubagentLabelDerivedFromTask(t *testing.T) {
	provider := &fakeProvider{respond: func(_ int, _ domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: "ok"}, nil
	}}
	m, b := newTestSubagentManager(t, provider)

	long := strings.Repeat("a", 50)
	ack := m.Spawn(long, "", "cli", "direct")
	want := "[" + strings.Repeat("a", 30) + "...]"
	if !strings.Contains(ack, want) {
		t.Fatalf("ack %q missing truncated label %q", ack, want)
	}
	waitForSystemMessage(t, b)
}

func TestSubagentRunningCount(t *testing.T) {
	release := make(chan struct{})
	provider := &fakeProvider{respond: func(_ int, _ domain.ChatRequest) (*domain.ChatResponse, error) {
		<-release
		return &domain.ChatResponse{Content: "done"}, nil
	}}
	m, b := newTestSubagentManager(t, provider)

	m.Spawn("slow one", "", "cli", "direct")
	m.Spawn("slow two", "", "cli", "direct")

	deadline := time.Now().Add(time.Second)
	for m.RunningCount() != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := m.RunningCount(); got != 2 {
		t.Fatalf("running count = %d, want 2", got)
	}

	close(release)
	waitForSystemMessage(t, b)
	waitForSystemMessage(t, b)

	deadline = time.Now().Add(time.Second)
	for m.RunningCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := m.RunningCount(); got != 0 {
		t.Fatalf("running count = %d, want 0", got)
	}
}

package provider

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"attobot/internal/config"
	"attobot/internal/domain"
)

func TestFactoryGetCachesInstances(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, slog.Default())

	p1, err := f.Get("ollama")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	p2, err := f.Get("")
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if p1 != p2 {
		t.Fatal("default provider should reuse the cached instance")
	}
}

func TestFactoryRejectsUnknownAndDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["dead"] = config.ProviderConfig{Enabled: false, APIBase: "http://x"}
	f := NewFactory(cfg, slog.Default())

	if _, err := f.Get("nope"); err == nil {
		t.Fatal("unknown provider should error")
	}
	if _, err := f.Get("dead"); err == nil {
		t.Fatal("disabled provider should error")
	}
}

func TestFactoryOpenAICompatibleFallback(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["groq"] = config.ProviderConfig{Enabled: true, APIBase: "https://api.groq.com/openai/v1", APIKey: "k"}
	f := NewFactory(cfg, slog.Default())

	p, err := f.Get("groq")
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if _, ok := p.(*OpenAI); !ok {
		t.Fatalf("expected OpenAI-compatible provider, got %T", p)
	}
}

func TestOllamaChatToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		// Arguments delivered as an object and as an encoded string.
		w.Write([]byte(`{
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [
					{"id": "1", "type": "function", "function": {"name": "shell", "arguments": {"command": "ls"}}},
					{"id": "2", "type": "function", "function": {"name": "shell", "arguments": "{\"command\": \"pwd\"}"}}
				]
			},
			"done": true,
			"done_reason": "tool_calls"
		}`))
	}))
	defer srv.Close()

	p := NewOllama(OllamaConfig{APIBase: srv.URL})
	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "list files"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !resp.HasToolCalls() || len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["command"] != "ls" || resp.ToolCalls[1].Arguments["command"] != "pwd" {
		t.Fatalf("arguments not decoded: %+v", resp.ToolCalls)
	}
}

func TestOllamaChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message": {"role": "assistant", "content": "Hel"}, "done": false}
{"message": {"role": "assistant", "content": "lo"}, "done": false}
{"message": {"role": "assistant", "content": ""}, "done": true, "done_reason": "stop"}
`))
	}))
	defer srv.Close()

	p := NewOllama(OllamaConfig{APIBase: srv.URL})
	var deltas []string
	resp, err := p.ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	}, func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if resp.Content != "Hello" {
		t.Fatalf("content %q", resp.Content)
	}
	if len(deltas) != 2 || deltas[0] != "Hel" || deltas[1] != "lo" {
		t.Fatalf("deltas %v", deltas)
	}
}

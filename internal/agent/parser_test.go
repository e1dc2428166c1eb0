package agent

import "testing"

func TestExtractToolCallsPureJSON(t *testing.T) {
	calls := extractToolCallsFromContent(`{"name":"shell","arguments":{"command":"ls"}}`)
	if len(calls) != 1 || calls[0].Name != "shell" {
		t.Fatalf("got %+v", calls)
	}
	if calls[0].Arguments["command"] != "ls" {
		t.Fatalf("arguments: %+v", calls[0].Arguments)
	}
}

func TestExtractToolCallsCodeFenced(t *testing.T) {
	content := "```json\n{\"name\":\"web_search\",\"parameters\":{\"query\":\"go\"}}\n```"
	calls := extractToolCallsFromContent(content)
	if len(calls) != 1 || calls[0].Name != "web_search" {
		t.Fatalf("got %+v", calls)
	}
}

func TestExtractToolCallsSurroundedByText(t *testing.T) {
	content := "assistant\n{\"name\":\"websearch\",\"arguments\":{\"query\":\"x\"}}\nI'll look that up."
	calls := extractToolCallsFromContent(content)
	if len(calls) != 1 {
		t.Fatalf("got %+v", calls)
	}
	if calls[0].Name != "web_search" {
		t.Fatalf("alias not normalized: %q", calls[0].Name)
	}
}

func TestExtractToolCallsArray(t *testing.T) {
	content := `[{"name":"read_file","arguments":{"path":"a"}},{"name":"shell","arguments":{"command":"ls"}}]`
	calls := extractToolCallsFromContent(content)
	if len(calls) != 2 || calls[0].Name != "read_file" || calls[1].Name != "shell" {
		t.Fatalf("got %+v", calls)
	}
}

func TestExtractToolCallsPlainText(t *testing.T) {
	if calls := extractToolCallsFromContent("Just a normal reply, no tools."); calls != nil {
		t.Fatalf("got %+v", calls)
	}
}

func TestStripRolePrefix(t *testing.T) {
	if got := stripRolePrefix("assistant\nHello"); got != "Hello" {
		t.Fatalf("got %q", got)
	}
	if got := stripRolePrefix("Assistant: Hi"); got != "Hi" {
		t.Fatalf("got %q", got)
	}
	if got := stripRolePrefix("No prefix here"); got != "No prefix here" {
		t.Fatalf("got %q", got)
	}
}

func TestSanitizeJSONEscapes(t *testing.T) {
	in := `{"name":"shell","arguments":{"command":"echo 100\%"}}`
	calls := extractToolCallsFromContent(in)
	if len(calls) != 1 {
		t.Fatalf("invalid escape not recovered: %+v", calls)
	}
	if calls[0].Arguments["command"] != "echo 100%" {
		t.Fatalf("arguments: %+v", calls[0].Arguments)
	}
}

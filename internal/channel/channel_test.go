package channel

import (
	"strings"
	"testing"
)

func TestSplitMessageShort(t *testing.T) {
	chunks := splitMessage("hello", 100)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("got %v", chunks)
	}
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	msg := strings.Repeat("x", 80) + "\n" + strings.Repeat("y", 80)
	chunks := splitMessage(msg, 100)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], "\n") {
		t.Fatalf("first chunk should end at newline: %q", chunks[0])
	}
	for _, c := range chunks {
		if len(c) > 100 {
			t.Fatalf("chunk too long: %d", len(c))
		}
	}
}

func TestSplitMessageHardCut(t *testing.T) {
	msg := strings.Repeat("z", 250)
	chunks := splitMessage(msg, 100)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if total := len(chunks[0]) + len(chunks[1]) + len(chunks[2]); total != 250 {
		t.Fatalf("content lost: %d bytes", total)
	}
}

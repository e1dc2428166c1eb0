package tool

import (
	"context"
	"strings"
	"testing"
)

func TestShellToolExecute(t *testing.T) {
	s := NewShellTool(ShellConfig{WorkingDir: t.TempDir()})
	out, err := s.Execute(context.Background(), map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Fatalf("got %q", out)
	}
}

func TestShellToolMissingCommand(t *testing.T) {
	s := NewShellTool(ShellConfig{})
	if _, err := s.Execute(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestShellToolTruncatesOutput(t *testing.T) {
	s := NewShellTool(ShellConfig{WorkingDir: t.TempDir(), MaxOutputBytes: 16})
	out, err := s.Execute(context.Background(), map[string]any{"command": "printf 'aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa'"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "truncated") {
		t.Fatalf("expected truncation marker, got %q", out)
	}
}

func TestShellToolFailingCommand(t *testing.T) {
	s := NewShellTool(ShellConfig{WorkingDir: t.TempDir()})
	if _, err := s.Execute(context.Background(), map[string]any{"command": "exit 3"}); err == nil {
		t.Fatal("expected exit error")
	}
}

package tool

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeTool struct {
	name   string
	params map[string]any
	fn     func(args map[string]any) (string, error)
}

func (f *fakeTool) Name() string               { return f.name }
func (f *fakeTool) Description() string        { return "fake" }
func (f *fakeTool) Parameters() map[string]any { return f.params }
func (f *fakeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return f.fn(args)
}

func echoTool() *fakeTool {
	return &fakeTool{
		name: "echo",
		params: ToolParameters(
			map[string]Param{
				"text":  {Type: "string", Description: "text to echo"},
				"count": {Type: "number", Description: "repeat count"},
			},
			[]string{"text"},
		),
		fn: func(args map[string]any) (string, error) {
			return ArgsString(args, "text"), nil
		},
	}
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(echoTool())

	got := r.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	if got != "hi" {
		t.Fatalf("got %q", got)
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	got := r.Execute(context.Background(), "nope", nil)
	if !strings.HasPrefix(got, "Error: unknown tool") {
		t.Fatalf("got %q", got)
	}
}

func TestRegistryValidatesRequired(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(echoTool())

	got := r.Execute(context.Background(), "echo", map[string]any{})
	if !strings.Contains(got, "missing required argument: text") {
		t.Fatalf("got %q", got)
	}
}

func TestRegistryValidatesTypes(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(echoTool())

	got := r.Execute(context.Background(), "echo", map[string]any{"text": "x", "count": "three"})
	if !strings.Contains(got, "expected number") {
		t.Fatalf("got %q", got)
	}

	// JSON numbers decode as float64
	got = r.Execute(context.Background(), "echo", map[string]any{"text": "x", "count": float64(3)})
	if got != "x" {
		t.Fatalf("got %q", got)
	}
}

func TestRegistryConvertsErrorsAndPanics(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&fakeTool{
		name: "fails",
		fn: func(map[string]any) (string, error) {
			return "", errors.New("disk on fire")
		},
	})
	r.Register(&fakeTool{
		name: "panics",
		fn: func(map[string]any) (string, error) {
			panic("boom")
		},
	})

	if got := r.Execute(context.Background(), "fails", nil); got != "Error: disk on fire" {
		t.Fatalf("got %q", got)
	}
	if got := r.Execute(context.Background(), "panics", nil); !strings.Contains(got, "crashed") {
		t.Fatalf("got %q", got)
	}
}

func TestGetDefinitions(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(echoTool())
	defs := r.GetDefinitions()
	if len(defs) != 1 || defs[0].Name != "echo" || defs[0].Parameters == nil {
		t.Fatalf("unexpected defs %+v", defs)
	}
}

func TestArgsHelpers(t *testing.T) {
	args := map[string]any{
		"s": "text",
		"n": float64(42),
		"b": true,
		"o": map[string]any{"k": "v"},
	}
	if got := ArgsString(args, "s"); got != "text" {
		t.Errorf("ArgsString s = %q", got)
	}
	if got := ArgsString(args, "o"); got != `{"k":"v"}` {
		t.Errorf("ArgsString o = %q", got)
	}
	if got := ArgsString(nil, "x"); got != "" {
		t.Errorf("ArgsString nil = %q", got)
	}
	if got := ArgsInt(args, "n"); got != 42 {
		t.Errorf("ArgsInt = %d", got)
	}
	if !ArgsBool(args, "b") || ArgsBool(args, "s") {
		t.Error("ArgsBool mismatch")
	}
}

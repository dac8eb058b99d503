package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/typserve/internal/logging"
)

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestRunReturnsValue(t *testing.T) {
	path := writeScript(t, "greet.lua", `return "hello, " .. args[1]`)
	e := NewEngine(map[string]string{"greet": path}, logging.Discard())

	got, err := e.Run(context.Background(), "greet", []any{"world"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != "hello, world" {
		t.Errorf("result: got %v, want hello, world", got)
	}
}

func TestRunReturnsTable(t *testing.T) {
	path := writeScript(t, "count.lua", `return { total = #args, first = args[1] }`)
	e := NewEngine(map[string]string{"count": path}, logging.Discard())

	got, err := e.Run(context.Background(), "count", []any{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("result type: got %T", got)
	}
	if m["total"] != float64(3) {
		t.Errorf("total: got %v, want 3", m["total"])
	}
	if m["first"] != "a" {
		t.Errorf("first: got %v, want a", m["first"])
	}
}

func TestRunUnknownCommand(t *testing.T) {
	e := NewEngine(nil, logging.Discard())

	_, err := e.Run(context.Background(), "nope", nil)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("error: got %v, want ErrUnknownCommand", err)
	}
}

func TestRunScriptError(t *testing.T) {
	path := writeScript(t, "bad.lua", `error("boom")`)
	e := NewEngine(map[string]string{"bad": path}, logging.Discard())

	if _, err := e.Run(context.Background(), "bad", nil); err == nil {
		t.Fatal("script error should propagate")
	}
}

func TestRunIsolation(t *testing.T) {
	set := writeScript(t, "set.lua", `leak = 42 return true`)
	get := writeScript(t, "get.lua", `return leak`)
	e := NewEngine(map[string]string{"set": set, "get": get}, logging.Discard())

	if _, err := e.Run(context.Background(), "set", nil); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := e.Run(context.Background(), "get", nil)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Errorf("globals should not leak across invocations, got %v", got)
	}
}

func TestCommands(t *testing.T) {
	e := NewEngine(map[string]string{"b": "b.lua", "a": "a.lua"}, logging.Discard())

	names := e.Commands()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("commands: got %v, want [a b]", names)
	}
	if !e.Has("a") || e.Has("c") {
		t.Error("Has mismatch")
	}
}

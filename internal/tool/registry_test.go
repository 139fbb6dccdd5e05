package tool

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"csbridge/internal/domain"
)

// stubTool is a minimal tool for testing the registry.
type stubTool struct {
	name    string
	payload any
	err     error
	gotArgs map[string]any
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub: " + s.name }
func (s *stubTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (s *stubTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	s.gotArgs = args
	return s.payload, s.err
}

var _ domain.Tool = (*stubTool)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	reg.Register(&stubTool{name: "test_tool"})

	got := reg.Get("test_tool")
	if got == nil {
		t.Fatal("expected to find registered tool")
	}
	if got.Name() != "test_tool" {
		t.Fatalf("expected 'test_tool', got %q", got.Name())
	}
	if reg.Get("nonexistent") != nil {
		t.Fatal("expected nil for unknown tool")
	}
}

func TestRegistry_ExecuteSuccess(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	stub := &stubTool{name: "echo", payload: map[string]any{"ok": true}}
	reg.Register(stub)

	res := reg.Execute(context.Background(), "echo", nil)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.ToolName != "echo" {
		t.Fatalf("expected tool name echo, got %q", res.ToolName)
	}
	if stub.gotArgs == nil {
		t.Fatal("nil args should be replaced with an empty map")
	}
	if !strings.Contains(res.JSON(), `"ok":true`) {
		t.Fatalf("payload missing from JSON: %s", res.JSON())
	}
	if res.Message != "函数 echo 执行成功" {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if !strings.Contains(res.JSON(), `"message":"函数 echo 执行成功"`) {
		t.Fatalf("message missing from JSON: %s", res.JSON())
	}
}

func TestRegistry_ExecuteUnknown(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	res := reg.Execute(context.Background(), "nope", map[string]any{})
	if res.Success {
		t.Fatal("expected failure for unknown tool")
	}
	if res.Error != "unknown function: nope" {
		t.Fatalf("unexpected error text %q", res.Error)
	}
}

func TestRegistry_ExecuteArgumentError(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	reg.Register(&stubTool{name: "strict", err: &domain.ToolArgumentError{Tool: "strict", Reason: "missing id"}})

	res := reg.Execute(context.Background(), "strict", nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Message != "函数 strict 参数错误" {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if !strings.Contains(res.Error, "missing id") {
		t.Fatalf("error should carry the reason, got %q", res.Error)
	}
}

func TestRegistry_ExecuteFailure(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	reg.Register(&stubTool{name: "flaky", err: errors.New("upstream 500")})

	res := reg.Execute(context.Background(), "flaky", nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Message != "函数 flaky 执行失败" {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if res.Error != "tool flaky failed: upstream 500" {
		t.Fatalf("unexpected error %q", res.Error)
	}
}

func TestRegistry_ToolResultPassthrough(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	reg.Register(&stubTool{name: "mail", payload: domain.ToolResult{Success: false, Message: "部分失败"}})

	res := reg.Execute(context.Background(), "mail", nil)
	if res.Success {
		t.Fatal("tool-reported failure should be kept")
	}
	if res.Message != "部分失败" || res.ToolName != "mail" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRegistry_ToolResultWithoutMessageGetsOne(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	reg.Register(&stubTool{name: "ok", payload: domain.ToolResult{Success: true, Payload: 1}})
	reg.Register(&stubTool{name: "bad", payload: domain.ToolResult{Success: false}})

	if res := reg.Execute(context.Background(), "ok", nil); res.Message != "函数 ok 执行成功" {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if res := reg.Execute(context.Background(), "bad", nil); res.Message != "函数 bad 执行失败" {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if res := reg.Execute(context.Background(), "gone", nil); res.Message != "函数 gone 不存在" {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestRegistry_SpecsSorted(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	reg.Register(&stubTool{name: "zeta"})
	reg.Register(&stubTool{name: "alpha"})
	reg.Register(&stubTool{name: "mid"})

	specs := reg.Specs()
	if len(specs) != 3 {
		t.Fatalf("expected 3 specs, got %d", len(specs))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, s := range specs {
		if s.Name != want[i] {
			t.Fatalf("spec %d: expected %s, got %s", i, want[i], s.Name)
		}
		if s.Parameters["type"] != "object" {
			t.Fatalf("spec %s: parameters not an object schema", s.Name)
		}
	}
	if names := reg.Names(); strings.Join(names, ",") != "alpha,mid,zeta" {
		t.Fatalf("unexpected names %v", names)
	}
}

// --- Argument helpers ---

func TestArgsString(t *testing.T) {
	args := map[string]any{
		"id":    float64(12),
		"price": 12.5,
		"name":  "  杜技师 ",
		"nil":   nil,
		"list":  []any{"a"},
	}
	cases := map[string]string{
		"id":      "12",
		"price":   "12.5",
		"name":    "杜技师",
		"nil":     "",
		"missing": "",
		"list":    `["a"]`,
	}
	for key, want := range cases {
		if got := ArgsString(args, key); got != want {
			t.Errorf("ArgsString(%q) = %q, want %q", key, got, want)
		}
	}
	if ArgsString(nil, "id") != "" {
		t.Error("nil args should read as empty")
	}
}

func TestRequireArgs(t *testing.T) {
	err := RequireArgs("t", map[string]any{"a": "x", "b": " "}, "a", "b", "c")
	var argErr *domain.ToolArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("expected ToolArgumentError, got %v", err)
	}
	if argErr.Reason != "missing b, c" {
		t.Fatalf("unexpected reason %q", argErr.Reason)
	}
	if RequireArgs("t", map[string]any{"a": "x"}, "a") != nil {
		t.Fatal("expected no error when all keys are present")
	}
}

func TestToolParameters(t *testing.T) {
	schema := ToolParameters(map[string]Param{"q": {Type: "string", Description: "query"}}, []string{"q"})
	props := schema["properties"].(map[string]any)
	q := props["q"].(map[string]any)
	if q["type"] != "string" || q["description"] != "query" {
		t.Fatalf("unexpected property %v", q)
	}
	if req := schema["required"].([]string); len(req) != 1 || req[0] != "q" {
		t.Fatalf("unexpected required %v", req)
	}
	if _, ok := ToolParameters(nil, nil)["required"]; ok {
		t.Fatal("required should be omitted when empty")
	}
}

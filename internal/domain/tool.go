package domain

import (
	"context"
	"encoding/json"
)

// Tool is a function the model may call. Handlers return a payload that is
// serialized back into the conversation.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// ToolExecutor runs a named tool and always reports the outcome as a result,
// never as a Go error.
type ToolExecutor interface {
	Specs() []ToolSpec
	Execute(ctx context.Context, name string, args map[string]any) ToolResult
}

// ToolSpec describes one callable function in OpenAI-compatible form.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a model-emitted request to run a tool. RawArguments keeps the
// provider text; ArgumentsErr is set when it did not decode to an object.
type ToolCall struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Arguments    map[string]any `json:"arguments"`
	RawArguments string         `json:"-"`
	ArgumentsErr error          `json:"-"`
}

// ToolResult is the outcome of one tool call.
type ToolResult struct {
	CallID   string `json:"-"`
	ToolName string `json:"-"`
	Success  bool   `json:"success"`
	Payload  any    `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
}

// JSON renders the result as the content of a tool-role message.
func (r ToolResult) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		fallback, _ := json.Marshal(ToolResult{Success: false, Error: err.Error()})
		return string(fallback)
	}
	return string(b)
}

package domain

import "context"

// Provider is the contract every AI chat-completion adapter satisfies.
type Provider interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Model() string
	SupportsTools() bool
	Healthy(ctx context.Context) error
}

// FinishReason is the normalized reason a completion stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool_calls"
	FinishError     FinishReason = "error"
)

// NormalizeFinishReason folds vendor-specific finish reasons into the four
// values callers branch on.
func NormalizeFinishReason(s string) FinishReason {
	switch s {
	case "length":
		return FinishLength
	case "tool_calls", "function_call":
		return FinishToolCalls
	case "content_filter", "sensitive", "network_error", "error":
		return FinishError
	default:
		return FinishStop
	}
}

type ChatRequest struct {
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature *float64 // nil leaves the provider's configured value
	Stream      bool
}

type ChatResponse struct {
	Content      string
	ModelID      string
	ProviderID   string
	Usage        Usage
	FinishReason FinishReason
	ToolCalls    []ToolCall

	// FirstToolCalls holds the tool calls of the first completion when the
	// response is the result of a tool round trip.
	FirstToolCalls []ToolCall
	LatencyMs      int64
}

func (r *ChatResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

package domain

import "time"

// Role identifies the speaker of a message in a chat transcript.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation as sent to a provider.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// ParseRole maps a free-form role label onto a chat role. Anything that is not
// the customer side is treated as the assistant.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleUser, "customer":
		return RoleUser
	case RoleSystem:
		return RoleSystem
	case RoleTool:
		return RoleTool
	default:
		return RoleAssistant
	}
}

// Package llm provides LLM client implementations.
package llm

import (
	"fmt"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
	Name       string     `json:"name,omitempty"`         // Tool name, for tool responses
	IsError    bool       `json:"is_error,omitempty"`
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID       string           `json:"id,omitempty"` // Provider-assigned ID, echoed on the tool result
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction names the tool and carries its decoded arguments.
type ToolCallFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// SystemMessage returns a system prompt message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// HumanMessage returns a user message.
func HumanMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AIMessage returns an assistant message, optionally requesting tool calls.
func AIMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResultMessage returns the result of one tool call.
func ToolResultMessage(callID, toolName, content string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
		Name:       toolName,
		IsError:    isError,
	}
}

// ChatResponse is the unified response from any LLM provider.
// Wire format conversion happens at provider boundaries.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	// Timing (populated when available)
	TotalDuration time.Duration
}

// UnknownModelError is returned when no provider serves the requested
// model name.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("no provider configured for model %q", e.Model)
}

package conversation

import (
	"encoding/json"
	"fmt"

	"github.com/TimChild/mcp-chat/internal/llm"
)

// Stored message types.
const (
	typeSystem = "system"
	typeHuman  = "human"
	typeAI     = "ai"
	typeTool   = "tool"
)

// Tool result statuses.
const (
	statusSuccess = "success"
	statusError   = "error"
)

// record is the persisted document for one conversation.
type record struct {
	Messages []storedMessage `json:"messages"`
}

type storedMessage struct {
	Type string     `json:"type"`
	Data storedData `json:"data"`
}

type storedData struct {
	Content    string           `json:"content"`
	ToolCalls  []storedToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
	Status     string           `json:"status,omitempty"`
}

type storedToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Encode serializes messages into the persisted record format.
func Encode(messages []llm.Message) ([]byte, error) {
	rec := record{Messages: make([]storedMessage, 0, len(messages))}
	for i, m := range messages {
		sm, err := toStored(m)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		rec.Messages = append(rec.Messages, sm)
	}
	return json.Marshal(rec)
}

// Decode parses a persisted record.
func Decode(data []byte) ([]llm.Message, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}

	out := make([]llm.Message, 0, len(rec.Messages))
	for i, sm := range rec.Messages {
		m, err := fromStored(sm)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func toStored(m llm.Message) (storedMessage, error) {
	switch m.Role {
	case llm.RoleSystem:
		return storedMessage{Type: typeSystem, Data: storedData{Content: m.Content}}, nil
	case llm.RoleUser:
		return storedMessage{Type: typeHuman, Data: storedData{Content: m.Content}}, nil
	case llm.RoleAssistant:
		data := storedData{Content: m.Content}
		for _, tc := range m.ToolCalls {
			args := tc.Function.Arguments
			if args == nil {
				args = map[string]any{}
			}
			data.ToolCalls = append(data.ToolCalls, storedToolCall{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: args,
			})
		}
		return storedMessage{Type: typeAI, Data: data}, nil
	case llm.RoleTool:
		status := statusSuccess
		if m.IsError {
			status = statusError
		}
		return storedMessage{Type: typeTool, Data: storedData{
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
			Status:     status,
		}}, nil
	default:
		return storedMessage{}, fmt.Errorf("unknown role %q", m.Role)
	}
}

func fromStored(sm storedMessage) (llm.Message, error) {
	d := sm.Data
	switch sm.Type {
	case typeSystem:
		return llm.SystemMessage(d.Content), nil
	case typeHuman:
		return llm.HumanMessage(d.Content), nil
	case typeAI:
		var calls []llm.ToolCall
		for _, tc := range d.ToolCalls {
			calls = append(calls, llm.ToolCall{
				ID:       tc.ID,
				Function: llm.ToolCallFunction{Name: tc.Name, Arguments: tc.Args},
			})
		}
		return llm.AIMessage(d.Content, calls...), nil
	case typeTool:
		return llm.ToolResultMessage(d.ToolCallID, d.Name, d.Content, d.Status == statusError), nil
	default:
		return llm.Message{}, fmt.Errorf("unknown message type %q", sm.Type)
	}
}

package llm

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimChild/mcp-chat/internal/logging"
)

var _ Client = (*AnthropicClient)(nil)
var _ Client = (*OpenAIClient)(nil)
var _ Client = (*OllamaClient)(nil)
var _ Client = (*MultiClient)(nil)

func TestConvertToAnthropic(t *testing.T) {
	msgs, system := convertToAnthropic([]Message{
		SystemMessage("You are a helpful assistant."),
		HumanMessage("Hello!"),
		AIMessage("Hi there!"),
		HumanMessage("Add 2 and 3."),
	})

	assert.Equal(t, "You are a helpful assistant.", system)
	require.Len(t, msgs, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
}

func TestConvertToAnthropic_ToolResultsShareOneTurn(t *testing.T) {
	msgs, _ := convertToAnthropic([]Message{
		HumanMessage("add and echo"),
		AIMessage("",
			ToolCall{ID: "toolu_1", Function: ToolCallFunction{Name: "add", Arguments: map[string]any{"a": 1.0}}},
			ToolCall{ID: "toolu_2", Function: ToolCallFunction{Name: "echo"}},
		),
		ToolResultMessage("toolu_1", "add", "3", false),
		ToolResultMessage("toolu_2", "echo", "Error: boom", true),
		AIMessage("done"),
	})

	// user, assistant(tool_use x2), user(tool_result x2), assistant
	require.Len(t, msgs, 4)

	require.Len(t, msgs[1].Content, 2)
	require.NotNil(t, msgs[1].Content[0].OfToolUse)
	assert.Equal(t, "toolu_1", msgs[1].Content[0].OfToolUse.ID)
	assert.Equal(t, map[string]any{}, msgs[1].Content[1].OfToolUse.Input)

	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
	require.Len(t, msgs[2].Content, 2)
	require.NotNil(t, msgs[2].Content[1].OfToolResult)
	assert.Equal(t, "toolu_2", msgs[2].Content[1].OfToolResult.ToolUseID)
	assert.True(t, msgs[2].Content[1].OfToolResult.IsError.Value)
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools := convertToolsToAnthropic([]map[string]any{{
		"type": "function",
		"function": map[string]any{
			"name":        "add",
			"description": "Add two numbers",
			"parameters": map[string]any{
				"type":       "object",
				"properties": map[string]any{"a": map[string]any{"type": "number"}},
				"required":   []any{"a"},
			},
		},
	}})

	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "add", tools[0].OfTool.Name)
	assert.Equal(t, "Add two numbers", tools[0].OfTool.Description.Value)
	assert.Equal(t, []string{"a"}, tools[0].OfTool.InputSchema.Required)

	assert.Nil(t, convertToolsToAnthropic(nil))
}

func TestAnthropicClient_Chat(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		data, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(data, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [
				{"type": "text", "text": "Let me add those."},
				{"type": "tool_use", "id": "toolu_9", "name": "add", "input": {"a": 2, "b": 3}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 20, "output_tokens": 9}
		}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL}, logging.Discard())
	resp, err := c.Chat(t.Context(), "claude-sonnet-4-20250514", []Message{
		SystemMessage("sys"),
		HumanMessage("add 2 and 3"),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-20250514", body["model"])
	assert.EqualValues(t, defaultAnthropicMaxTokens, body["max_tokens"])

	assert.Equal(t, "Let me add those.", resp.Message.Content)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "toolu_9", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"a": 2.0, "b": 3.0}, resp.Message.ToolCalls[0].Function.Arguments)
	assert.Equal(t, 20, resp.InputTokens)
	assert.Equal(t, 9, resp.OutputTokens)
}

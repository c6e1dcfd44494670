package llm

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimChild/mcp-chat/internal/logging"
)

func TestConvertToOpenAI(t *testing.T) {
	msgs, err := convertToOpenAI([]Message{
		SystemMessage("sys"),
		HumanMessage("add"),
		AIMessage("", ToolCall{ID: "call_1", Function: ToolCallFunction{Name: "add", Arguments: map[string]any{"a": 1.0}}}),
		ToolResultMessage("call_1", "add", "1", false),
		AIMessage("one"),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	require.NotNil(t, msgs[0].OfSystem)
	require.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, `{"a":1}`, msgs[2].OfAssistant.ToolCalls[0].Function.Arguments)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "call_1", msgs[3].OfTool.ToolCallID)
	require.NotNil(t, msgs[4].OfAssistant)

	_, err = convertToOpenAI([]Message{{Role: "narrator"}})
	require.Error(t, err)
}

func TestOpenAIClient_Chat(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		data, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(data, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{
						"id": "call_7",
						"type": "function",
						"function": {"name": "add", "arguments": "{\"a\":2,\"b\":3}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 11, "completion_tokens": 4, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL}, logging.Discard())
	resp, err := c.Chat(t.Context(), "gpt-4o", []Message{HumanMessage("add 2 and 3")}, []map[string]any{{
		"type": "function",
		"function": map[string]any{
			"name":        "add",
			"description": "Add two numbers",
			"parameters":  map[string]any{"type": "object"},
		},
	}})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", body["model"])
	tools, _ := body["tools"].([]any)
	assert.Len(t, tools, 1)

	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "call_7", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"a": 2.0, "b": 3.0}, resp.Message.ToolCalls[0].Function.Arguments)
	assert.Equal(t, 11, resp.InputTokens)
	assert.Equal(t, 4, resp.OutputTokens)
}

func TestOpenAIClient_InvalidToolArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":null,"tool_calls":[{"id":"c","type":"function","function":{"name":"add","arguments":"{not json"}}]}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}, logging.Discard())
	_, err := c.Chat(t.Context(), "m", []Message{HumanMessage("x")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments")
}

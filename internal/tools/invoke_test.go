package tools

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimChild/mcp-chat/internal/llm"
)

func call(id, name string, args map[string]any) llm.ToolCall {
	return llm.ToolCall{ID: id, Function: llm.ToolCallFunction{Name: name, Arguments: args}}
}

func TestCallTools_NoToolCalls(t *testing.T) {
	_, err := CallTools(context.Background(), NewRegistry(), llm.AIMessage("just text"))
	require.ErrorIs(t, err, ErrNoToolCalls)
}

func TestCallTools_OrderAndIsolation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(addTool()))
	require.NoError(t, r.Register(&Tool{
		Name: "slow",
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			time.Sleep(50 * time.Millisecond)
			return "slow done", nil
		},
	}))
	require.NoError(t, r.Register(&Tool{
		Name: "explode",
		Handler: func(context.Context, map[string]any) (string, error) {
			panic("kaboom")
		},
	}))

	msg := llm.AIMessage("",
		call("c1", "slow", nil),
		call("c2", "add", map[string]any{"a": 2.0, "b": 3.0}),
		call("c3", "add", map[string]any{"a": 6.0, "b": 7.0}),
		call("c4", "missing", nil),
		call("c5", "add", map[string]any{"a": 1.0}),
		call("c6", "explode", nil),
	)

	results, err := CallTools(context.Background(), r, msg)
	require.NoError(t, err)
	require.Len(t, results, 6)

	for i, res := range results {
		assert.Equal(t, llm.RoleTool, res.Role)
		assert.Equal(t, msg.ToolCalls[i].ID, res.ToolCallID)
		assert.Equal(t, msg.ToolCalls[i].Function.Name, res.Name)
	}

	assert.Equal(t, "slow done", results[0].Content)
	assert.False(t, results[0].IsError)
	assert.Equal(t, "5", results[1].Content)

	assert.True(t, results[2].IsError)
	assert.Equal(t, "Error: unlucky", results[2].Content)

	assert.True(t, results[3].IsError)
	assert.Equal(t, `Error: tool "missing" is not available in this context`, results[3].Content)

	assert.True(t, results[4].IsError)
	assert.Contains(t, results[4].Content, "Error: invalid arguments for add")

	assert.True(t, results[5].IsError)
	assert.Contains(t, results[5].Content, "kaboom")
}

func TestCallTools_RunsConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})

	r := NewRegistry()
	require.NoError(t, r.Register(&Tool{
		Name: "wait",
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			defer inFlight.Add(-1)
			select {
			case <-release:
				return "ok", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}))

	go func() {
		assert.Eventually(t, func() bool { return peak.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
		close(release)
	}()

	results, err := CallTools(context.Background(), r, llm.AIMessage("",
		call("a", "wait", nil), call("b", "wait", nil), call("c", "wait", nil)))
	require.NoError(t, err)
	for _, res := range results {
		assert.Equal(t, "ok", res.Content)
	}
	assert.EqualValues(t, 3, peak.Load())
}

func TestCallTools_ContextCancelled(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Tool{
		Name: "block",
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := CallTools(ctx, r, llm.AIMessage("", call("x", "block", nil)))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Equal(t, "Error: context canceled", results[0].Content)
}

package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/TimChild/mcp-chat/internal/llm"
)

// CallTools executes every tool call in msg concurrently and returns one
// tool result per call, in call order. A failing call does not abort
// the batch: it yields a result with IsError set and content
// "Error: <err>". ErrNoToolCalls is returned when msg requests nothing.
func CallTools(ctx context.Context, registry *Registry, msg llm.Message) ([]llm.Message, error) {
	if len(msg.ToolCalls) == 0 {
		return nil, ErrNoToolCalls
	}

	results := make([]llm.Message, len(msg.ToolCalls))
	var wg sync.WaitGroup
	for i, call := range msg.ToolCalls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = callOne(ctx, registry, call)
		}()
	}
	wg.Wait()

	return results, nil
}

func callOne(ctx context.Context, registry *Registry, call llm.ToolCall) (res llm.Message) {
	name := call.Function.Name
	defer func() {
		if p := recover(); p != nil {
			res = llm.ToolResultMessage(call.ID, name, fmt.Sprintf("Error: tool panicked: %v", p), true)
		}
	}()

	out, err := registry.Execute(ctx, name, call.Function.Arguments)
	if err != nil {
		return llm.ToolResultMessage(call.ID, name, "Error: "+err.Error(), true)
	}
	return llm.ToolResultMessage(call.ID, name, out, false)
}

package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoToolCalls is returned by CallTools when the message carries no
// tool calls. Callers should only dispatch messages that request tools.
var ErrNoToolCalls = errors.New("message has no tool calls")

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the registry. It indicates a capability mismatch
// (the model named a tool it was never offered, or its server dropped
// out), not a transient execution failure.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// ValidationError reports arguments that do not satisfy a tool's
// input schema.
type ValidationError struct {
	ToolName string
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return fmt.Sprintf("invalid arguments for %s", e.ToolName)
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.ToolName, strings.Join(e.Problems, "; "))
}

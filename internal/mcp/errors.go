package mcp

import (
	"fmt"
)

// ServerProbeError records why a server failed its reachability probe.
// A server that fails the probe is not retried for the life of the
// Manager.
type ServerProbeError struct {
	Server string
	Err    error
}

func (e *ServerProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Server, e.Err)
}

func (e *ServerProbeError) Unwrap() error { return e.Err }

// SessionInitError reports a session that passed the probe but could
// not finish its handshake and tool listing within the init timeout.
type SessionInitError struct {
	Server string
	Err    error
}

func (e *SessionInitError) Error() string {
	return fmt.Sprintf("initialize session %s: %v", e.Server, e.Err)
}

func (e *SessionInitError) Unwrap() error { return e.Err }

// UnknownServerError is returned by InvokeTool for a server that is not
// configured, failed its probe, or has no ready session. Cause holds
// the recorded failure, if any.
type UnknownServerError struct {
	Server string
	Cause  error
}

func (e *UnknownServerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("server %s is not available: %v", e.Server, e.Cause)
	}
	return fmt.Sprintf("server %s is not available", e.Server)
}

func (e *UnknownServerError) Unwrap() error { return e.Cause }

// UnknownToolError is returned by InvokeTool when the server is ready
// but does not list the tool.
type UnknownToolError struct {
	Server string
	Tool   string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("server %s has no tool %q", e.Server, e.Tool)
}

// ReentrancyError is returned by Release when there is no matching
// Acquire.
type ReentrancyError struct {
	Depth int
}

func (e *ReentrancyError) Error() string {
	return fmt.Sprintf("release without acquire (depth %d)", e.Depth)
}

// ToolError carries the text of a tools/call result flagged isError.
type ToolError struct {
	Server  string
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tool %s on %s failed", e.Tool, e.Server)
	}
	return fmt.Sprintf("tool %s on %s failed: %s", e.Tool, e.Server, e.Message)
}

package mcp

import (
	"context"
)

// Transport is the interface for MCP server communication.
// Implementations handle the details of sending JSON-RPC requests and
// receiving responses over a specific transport.
type Transport interface {
	// Send sends a JSON-RPC request and returns the response.
	// The transport handles framing, encoding, and correlation.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify sends a JSON-RPC notification (no response expected).
	Notify(ctx context.Context, notif *Notification) error

	// Close shuts down the transport and releases resources.
	// For stdio transports this terminates the subprocess.
	Close() error
}

// contextCloser is implemented by transports whose shutdown can be cut
// short by a context.
type contextCloser interface {
	CloseContext(ctx context.Context) error
}

// closeTransport closes t, returning no later than ctx. Transports
// without CloseContext finish closing in the background.
func closeTransport(ctx context.Context, t Transport) error {
	if cc, ok := t.(contextCloser); ok {
		return cc.CloseContext(ctx)
	}
	done := make(chan error, 1)
	go func() { done <- t.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

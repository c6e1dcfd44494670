package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/TimChild/mcp-chat/internal/httpkit"
	"github.com/TimChild/mcp-chat/internal/logging"
)

// SSEConfig configures an SSE MCP transport: a GET event stream that
// announces a POST endpoint, with responses delivered as stream events.
type SSEConfig struct {
	// URL is the SSE stream endpoint (typically ending in /sse).
	URL string

	// Headers are sent on the stream request and every POST.
	Headers map[string]string

	// HTTPClient overrides the httpkit default client. It must not set
	// an overall timeout, since the stream stays open for the life of
	// the session.
	HTTPClient *http.Client

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// SSETransport adapts the mcp-go SSE client transport to [Transport].
type SSETransport struct {
	inner  *transport.SSE
	logger *slog.Logger
	cancel context.CancelFunc
}

// NewSSETransport opens the event stream and waits for the server to
// announce its message endpoint. ctx bounds only that wait; the stream
// itself lives until Close.
func NewSSETransport(ctx context.Context, cfg SSEConfig) (*SSETransport, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithLogger(logger),
		)
	}

	inner, err := transport.NewSSE(cfg.URL,
		transport.WithHeaders(cfg.Headers),
		transport.WithHTTPClient(client),
		transport.WithSSELogger(sseLogger{logger}),
	)
	if err != nil {
		return nil, fmt.Errorf("create SSE transport: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	t := &SSETransport{inner: inner, logger: logger, cancel: cancel}

	started := make(chan error, 1)
	go func() { started <- inner.Start(streamCtx) }()

	select {
	case err := <-started:
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("connect SSE stream %s: %w", cfg.URL, err)
		}
		return t, nil
	case <-ctx.Done():
		// Start owns the stream until it returns.
		cancel()
		<-started
		t.Close()
		return nil, fmt.Errorf("connect SSE stream %s: %w", cfg.URL, ctx.Err())
	}
}

// Send posts a request and waits for its response event.
func (t *SSETransport) Send(ctx context.Context, req *Request) (*Response, error) {
	t.logger.Log(ctx, logging.LevelTrace, "MCP request", "method", req.Method, "id", req.ID)

	resp, err := t.inner.SendRequest(ctx, transport.JSONRPCRequest{
		JSONRPC: jsonrpcVersion,
		ID:      mcpgo.NewRequestId(req.ID),
		Method:  req.Method,
		Params:  req.Params,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	out := &Response{
		JSONRPC: jsonrpcVersion,
		ID:      req.ID,
		Result:  resp.Result,
	}
	if resp.Error != nil {
		out.Error = &RPCError{
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
			Data:    resp.Error.Data,
		}
	}
	t.logger.Log(ctx, logging.LevelTrace, "MCP response", "id", req.ID, "payload", string(resp.Result))
	return out, nil
}

// Notify posts a notification to the message endpoint.
func (t *SSETransport) Notify(ctx context.Context, notif *Notification) error {
	n := mcpgo.JSONRPCNotification{
		JSONRPC: jsonrpcVersion,
		Notification: mcpgo.Notification{
			Method: notif.Method,
		},
	}
	if fields, ok := notif.Params.(map[string]any); ok {
		n.Params.AdditionalFields = fields
	}
	return t.inner.SendNotification(ctx, n)
}

// Close ends the event stream. Pending Sends fail.
func (t *SSETransport) Close() error {
	err := t.inner.Close()
	t.cancel()
	return err
}

// sseLogger routes mcp-go transport diagnostics into slog.
type sseLogger struct {
	l *slog.Logger
}

func (s sseLogger) Infof(format string, v ...any) {
	s.l.Debug(fmt.Sprintf(format, v...))
}

func (s sseLogger) Errorf(format string, v ...any) {
	s.l.Warn(fmt.Sprintf(format, v...))
}

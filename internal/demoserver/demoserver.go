// Package demoserver is a small MCP tool server used by the example
// binary and by transport tests. It offers arithmetic, echo and clock
// tools over stdio, SSE or streamable HTTP.
package demoserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/TimChild/mcp-chat/internal/buildinfo"
)

// Name is the server name reported during initialize.
const Name = "mcp-chat-example"

// ToolNames lists the tools New registers, in listing order.
var ToolNames = []string{"add", "current_time", "divide", "echo"}

type addArgs struct {
	A float64 `json:"a" jsonschema:"first addend"`
	B float64 `json:"b" jsonschema:"second addend"`
}

type divideArgs struct {
	Dividend float64 `json:"dividend" jsonschema:"number to divide"`
	Divisor  float64 `json:"divisor" jsonschema:"number to divide by, must not be zero"`
}

type echoArgs struct {
	Text string `json:"text" jsonschema:"text to return unchanged"`
}

type timeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"IANA zone name, UTC when empty"`
}

// Clock returns the current time. Tests replace it.
type Clock func() time.Time

// New builds the demo server. A nil clock means time.Now.
func New(clock Clock) *mcp.Server {
	if clock == nil {
		clock = time.Now
	}

	srv := mcp.NewServer(&mcp.Implementation{Name: Name, Version: buildinfo.Version}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "add",
		Description: "Add two numbers and return the sum.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in addArgs) (*mcp.CallToolResult, any, error) {
		return text(formatNumber(in.A + in.B)), nil, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "divide",
		Description: "Divide one number by another.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in divideArgs) (*mcp.CallToolResult, any, error) {
		if in.Divisor == 0 {
			return nil, nil, errors.New("division by zero")
		}
		return text(formatNumber(in.Dividend / in.Divisor)), nil, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "echo",
		Description: "Return the given text unchanged.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in echoArgs) (*mcp.CallToolResult, any, error) {
		return text(in.Text), nil, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "current_time",
		Description: "Report the current time in RFC 3339 format.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in timeArgs) (*mcp.CallToolResult, any, error) {
		loc := time.UTC
		if in.Timezone != "" {
			l, err := time.LoadLocation(in.Timezone)
			if err != nil {
				return nil, nil, err
			}
			loc = l
		}
		return text(clock().In(loc).Format(time.RFC3339)), nil, nil
	})

	return srv
}

// ServeStdio serves srv on stdin/stdout until ctx ends or the client
// disconnects.
func ServeStdio(ctx context.Context, srv *mcp.Server) error {
	return srv.Run(ctx, &mcp.StdioTransport{})
}

// StreamableHandler serves srv over streamable HTTP.
func StreamableHandler(srv *mcp.Server, logger *slog.Logger) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv },
		&mcp.StreamableHTTPOptions{Logger: logger})
}

// SSEHandler serves srv over the SSE transport.
func SSEHandler(srv *mcp.Server) http.Handler {
	return mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

func text(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: s}}}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

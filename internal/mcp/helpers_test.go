package mcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/TimChild/mcp-chat/internal/demoserver"
)

// helperEnv switches the test binary into a stdio MCP server when set:
// "serve" runs the demo server, "noisy" prints a banner to stdout
// first, "linger" keeps running for a minute after stdin closes, and
// "hang" reads stdin without ever answering.
const helperEnv = "MCPCHAT_STDIO_HELPER"

func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
		os.Exit(m.Run())
	case "serve":
		os.Exit(serveHelper())
	case "noisy":
		fmt.Println("demo server booting")
		os.Exit(serveHelper())
	case "linger":
		code := serveHelper()
		time.Sleep(time.Minute)
		os.Exit(code)
	case "hang":
		_, _ = io.Copy(io.Discard, os.Stdin)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown helper mode %q\n", os.Getenv(helperEnv))
		os.Exit(2)
	}
}

func serveHelper() int {
	if err := demoserver.ServeStdio(context.Background(), demoserver.New(nil)); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return 0
}

// helperSpec describes a stdio server backed by this test binary.
func helperSpec(t *testing.T, name, mode string) ConnectionSpec {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return ConnectionSpec{
		Name:      name,
		Transport: TransportStdio,
		Stdio: StdioParams{
			Command: exe,
			Env:     map[string]string{helperEnv: mode},
		},
	}
}

// newGreeterServer is an mcp-go server with one tool, used to exercise
// the network transports against an independent implementation.
func newGreeterServer() *server.MCPServer {
	s := server.NewMCPServer("greeter", "0.1.0", server.WithToolCapabilities(false))
	s.AddTool(
		mcpgo.NewTool("greet",
			mcpgo.WithDescription("Greet someone by name"),
			mcpgo.WithString("name", mcpgo.Required()),
		),
		func(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			name, err := req.RequireString("name")
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return mcpgo.NewToolResultText(`{"greeting":"hello, ` + name + `"}`), nil
		},
	)
	return s
}

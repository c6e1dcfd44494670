package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// TransportKind selects how a server is reached.
type TransportKind string

// Supported transports.
const (
	TransportStdio          TransportKind = "stdio"
	TransportSSE            TransportKind = "sse"
	TransportStreamableHTTP TransportKind = "streamable_http"
)

// StdioParams configure a subprocess server.
type StdioParams struct {
	Command string
	Args    []string
	Env     map[string]string
}

// StreamParams configure a network server (sse or streamable_http).
type StreamParams struct {
	URL     string
	Headers map[string]string
}

// ConnectionSpec describes how to reach one MCP server. Only the params
// matching Transport are consulted.
type ConnectionSpec struct {
	Name      string
	Transport TransportKind
	Stdio     StdioParams
	Stream    StreamParams
}

// Validate reports whether s carries the parameters its
// transport needs.
func (s ConnectionSpec) Validate() error {
	if s.Name == "" {
		return errors.New("connection spec has no name")
	}
	switch s.Transport {
	case TransportStdio:
		if s.Stdio.Command == "" {
			return fmt.Errorf("server %s: stdio transport requires a command", s.Name)
		}
	case TransportSSE, TransportStreamableHTTP:
		if s.Stream.URL == "" {
			return fmt.Errorf("server %s: %s transport requires a url", s.Name, s.Transport)
		}
	default:
		return fmt.Errorf("server %s: unknown transport %q", s.Name, s.Transport)
	}
	return nil
}

// Open builds the transport for s. Stdio subprocesses are started
// lazily on first use; SSE connects its event stream immediately and
// honors ctx while waiting for the endpoint announcement.
func (s ConnectionSpec) Open(ctx context.Context, logger *slog.Logger) (Transport, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("mcp_server", s.Name, "transport", string(s.Transport))

	switch s.Transport {
	case TransportStdio:
		return NewStdioTransport(StdioConfig{
			Command: s.Stdio.Command,
			Args:    s.Stdio.Args,
			Env:     envList(s.Stdio.Env),
			Logger:  logger,
		}), nil
	case TransportSSE:
		return NewSSETransport(ctx, SSEConfig{
			URL:     s.Stream.URL,
			Headers: s.Stream.Headers,
			Logger:  logger,
		})
	default:
		return NewHTTPTransport(HTTPConfig{
			URL:     s.Stream.URL,
			Headers: s.Stream.Headers,
			Logger:  logger,
		}), nil
	}
}

// envList flattens env into sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Command mcpchat-example-server serves a small set of demo tools over
// MCP. It speaks stdio by default; with --listen it serves streamable
// HTTP at /mcp and SSE at /sse instead.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TimChild/mcp-chat/internal/buildinfo"
	"github.com/TimChild/mcp-chat/internal/demoserver"
	"github.com/TimChild/mcp-chat/internal/logging"
)

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var listen, logLevel string

	root := &cobra.Command{
		Use:           "mcpchat-example-server",
		Short:         "Serve demo MCP tools (add, divide, echo, current_time)",
		Version:       buildinfo.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stdout carries the stdio protocol, so logs always go to stderr.
			logger, closer, err := logging.New(stderr, logging.Options{Level: logLevel})
			if err != nil {
				return err
			}
			defer closer.Close()

			srv := demoserver.New(nil)
			if listen == "" {
				logger.Info("serving MCP over stdio", "version", buildinfo.Version)
				return demoserver.ServeStdio(cmd.Context(), srv)
			}

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", listen, err)
			}
			return serveHTTP(cmd.Context(), ln, newMux(logger), logger)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)
	root.Flags().StringVar(&listen, "listen", "", "serve HTTP on this address instead of stdio (e.g. 127.0.0.1:8000)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")

	return root.ExecuteContext(ctx)
}

// newMux routes /mcp to streamable HTTP and /sse to the SSE transport,
// each with its own server instance.
func newMux(logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/mcp", demoserver.StreamableHandler(demoserver.New(nil), logger))
	mux.Handle("/sse", demoserver.SSEHandler(demoserver.New(nil)))
	return mux
}

// serveHTTP serves handler on ln until ctx is cancelled, then shuts down
// gracefully.
func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	logger.Info("serving MCP over HTTP",
		"addr", ln.Addr().String(),
		"streamable_http", "/mcp",
		"sse", "/sse",
		"version", buildinfo.Version,
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown timed out, closing connections", "error", err)
		_ = server.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

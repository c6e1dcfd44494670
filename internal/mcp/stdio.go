package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/TimChild/mcp-chat/internal/logging"
)

// defaultStopGrace is how long Close waits for a subprocess to exit
// after its stdin is closed before killing it.
const defaultStopGrace = 5 * time.Second

// StdioConfig configures a stdio MCP transport that communicates with
// a subprocess over stdin/stdout using newline-delimited JSON-RPC.
type StdioConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments passed to the executable.
	Args []string

	// Env are additional environment variables for the subprocess
	// (format: "KEY=VALUE"). These are appended to the current
	// process environment.
	Env []string

	// StopGrace bounds the wait for a graceful exit on Close.
	// Zero means five seconds.
	StopGrace time.Duration

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// StdioTransport communicates with an MCP server running as a
// subprocess. JSON-RPC messages are newline-delimited on stdin/stdout.
//
// Access is serialized by a one-slot semaphore rather than a mutex so
// that a caller waiting behind a slow request gives up when its own
// context ends.
type StdioTransport struct {
	config StdioConfig
	logger *slog.Logger
	sem    chan struct{}

	// Guarded by sem.
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
}

// NewStdioTransport creates a stdio transport for the given config.
// The subprocess is not started until the first Send or Notify call.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	return &StdioTransport{
		config: cfg,
		logger: logger,
		sem:    make(chan struct{}, 1),
	}
}

// acquire takes the semaphore or returns ctx.Err().
func (t *StdioTransport) acquire(ctx context.Context) error {
	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	// Both cases may be ready at once; a cancelled caller must not
	// proceed.
	if err := ctx.Err(); err != nil {
		t.release()
		return err
	}
	return nil
}

func (t *StdioTransport) release() {
	<-t.sem
}

// start launches the subprocess if it is not already running. The
// subprocess lifecycle is independent of call contexts: it survives
// individual request timeouts and ends only on Close or after an I/O
// failure. Caller must hold the semaphore.
func (t *StdioTransport) start() error {
	if t.cmd != nil {
		return nil
	}

	t.logger.Info("starting MCP subprocess",
		"command", t.config.Command,
		"args", t.config.Args,
	)

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = append(os.Environ(), t.config.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Stderr is diagnostics only, never protocol.
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stderrPipe.Close()
		stdout.Close()
		stdin.Close()
		return fmt.Errorf("start subprocess %s: %w", t.config.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.reader = bufio.NewReaderSize(stdout, 1<<20)

	go t.drainStderr(stderrPipe)

	t.logger.Debug("MCP subprocess started", "pid", cmd.Process.Pid)
	return nil
}

// drainStderr reads stderr lines and logs them at debug level.
func (t *StdioTransport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("MCP subprocess stderr", "line", scanner.Text())
	}
}

// readResult is the outcome of a single line read from stdout.
type readResult struct {
	line []byte
	err  error
}

// Send writes a request to stdin and reads stdout until the matching
// response arrives. Notifications and server-initiated requests that
// arrive first are skipped. A context that ends mid-read kills the
// subprocess, since the stream position is no longer known.
func (t *StdioTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := t.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.release()

	if err := t.start(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	t.logger.Log(ctx, logging.LevelTrace, "MCP request", "payload", string(data))

	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		t.cleanup()
		return nil, fmt.Errorf("write to subprocess stdin: %w", err)
	}

	reader := t.reader
	for {
		ch := make(chan readResult, 1)
		go func() {
			line, readErr := reader.ReadBytes('\n')
			ch <- readResult{line: line, err: readErr}
		}()

		select {
		case <-ctx.Done():
			t.cleanup()
			return nil, ctx.Err()
		case res := <-ch:
			if res.err != nil {
				t.cleanup()
				return nil, fmt.Errorf("read from subprocess stdout: %w", res.err)
			}

			resp, ok, err := decodeResponse(res.line, req.ID)
			if err != nil {
				t.logger.Debug("skipping non-JSON line from MCP subprocess",
					"line", string(res.line),
				)
				continue
			}
			if !ok {
				t.logger.Log(ctx, logging.LevelTrace, "skipping unmatched MCP message",
					"payload", string(res.line),
				)
				continue
			}

			t.logger.Log(ctx, logging.LevelTrace, "MCP response", "payload", string(res.line))
			return resp, nil
		}
	}
}

// Notify sends a JSON-RPC notification over stdin. No response is expected.
func (t *StdioTransport) Notify(ctx context.Context, notif *Notification) error {
	if err := t.acquire(ctx); err != nil {
		return err
	}
	defer t.release()

	if err := t.start(); err != nil {
		return err
	}

	data, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		t.cleanup()
		return fmt.Errorf("write notification to subprocess stdin: %w", err)
	}

	return nil
}

// Close terminates the subprocess and releases resources. It waits for
// any in-flight Send to finish first.
func (t *StdioTransport) Close() error {
	return t.CloseContext(context.Background())
}

// CloseContext is Close with a deadline: when ctx ends before the
// subprocess has exited, it is killed.
func (t *StdioTransport) CloseContext(ctx context.Context) error {
	select {
	case t.sem <- struct{}{}:
	default:
		if err := t.acquire(ctx); err != nil {
			return err
		}
	}
	defer t.release()

	return t.stop(ctx)
}

// stop closes stdin and waits for the subprocess to exit, killing it
// after StopGrace or when ctx ends, whichever comes first. Caller must
// hold the semaphore.
func (t *StdioTransport) stop(ctx context.Context) error {
	if t.cmd == nil {
		return nil
	}
	cmd := t.cmd
	pid := cmd.Process.Pid

	t.logger.Debug("stopping MCP subprocess", "pid", pid)

	if t.stdin != nil {
		t.stdin.Close()
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	grace := time.NewTimer(t.config.StopGrace)
	defer grace.Stop()

	var err error
	select {
	case err = <-done:
	case <-grace.C:
		t.logger.Warn("MCP subprocess did not exit gracefully, killing", "pid", pid)
		_ = cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		t.logger.Debug("close deadline reached, killing MCP subprocess", "pid", pid)
		_ = cmd.Process.Kill()
		<-done
	}

	t.cmd = nil
	t.stdin = nil
	t.reader = nil
	return err
}

// cleanup kills the subprocess after an I/O failure. The next Send
// starts a fresh one. Caller must hold the semaphore.
func (t *StdioTransport) cleanup() {
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd != nil {
		_ = t.cmd.Process.Kill()
		_ = t.cmd.Wait()
	}
	t.cmd = nil
	t.stdin = nil
	t.reader = nil
}

package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func helperTransport(t *testing.T, mode string) *StdioTransport {
	t.Helper()
	spec := helperSpec(t, "helper", mode)
	tr := NewStdioTransport(StdioConfig{
		Command:   spec.Stdio.Command,
		Env:       envList(spec.Stdio.Env),
		StopGrace: 2 * time.Second,
	})
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestStdioTransport_DemoServer(t *testing.T) {
	for _, mode := range []string{"serve", "noisy"} {
		t.Run(mode, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			client := NewClient("demo", helperTransport(t, mode), nil)
			require.NoError(t, client.Initialize(ctx))
			assert.Equal(t, "mcp-chat-example", client.ServerInfo().Name)

			tools, err := client.ListTools(ctx)
			require.NoError(t, err)
			assert.Len(t, tools, 4)

			out, err := client.CallTool(ctx, "add", map[string]any{"a": 2, "b": 3})
			require.NoError(t, err)
			assert.Equal(t, "5", out)

			_, err = client.CallTool(ctx, "divide", map[string]any{"dividend": 1, "divisor": 0})
			var toolErr *ToolError
			require.ErrorAs(t, err, &toolErr)
			assert.Contains(t, toolErr.Message, "division by zero")

			require.NoError(t, client.Ping(ctx))
		})
	}
}

func TestStdioTransport_SendTimeoutKillsSubprocess(t *testing.T) {
	tr := helperTransport(t, "hang")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := tr.Send(ctx, NewRequest(1, "ping", nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	// The stream position is unknown after an abandoned read, so the
	// subprocess is gone and the next call starts a fresh one.
	require.NoError(t, tr.acquire(context.Background()))
	assert.Nil(t, tr.cmd)
	tr.release()
}

func TestStdioTransport_StartFailure(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "/nonexistent/mcp-server"})

	_, err := tr.Send(context.Background(), NewRequest(1, "ping", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start subprocess")
}

func TestStdioTransport_CloseUnstarted(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "echo"})
	assert.NoError(t, tr.Close())
}

func TestStdioTransport_AcquireRespectsContext(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "echo"})

	// Simulate another goroutine holding the slot.
	tr.sem <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, tr.acquire(ctx), context.DeadlineExceeded)
}

func TestStdioTransport_AcquireAlreadyCancelledSemaphoreFree(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "echo"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, tr.acquire(ctx), context.Canceled)

	select {
	case <-tr.sem:
		t.Fatal("semaphore was acquired despite cancelled context")
	default:
	}
}

func TestStdioTransport_ReleaseFreesSlot(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "echo"})
	ctx := context.Background()

	require.NoError(t, tr.acquire(ctx))
	tr.release()
	require.NoError(t, tr.acquire(ctx))
	tr.release()
}

func TestStdioTransport_BusySemaphore(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "echo"})
	tr.sem <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := tr.Send(ctx, NewRequest(99, "ping", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = tr.Notify(ctx, NewNotification("notifications/test", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStdioTransport_CloseWaitsForSemaphore(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "echo"})
	require.NoError(t, tr.acquire(context.Background()))

	closeDone := make(chan error, 1)
	go func() { closeDone <- tr.Close() }()

	select {
	case <-closeDone:
		t.Fatal("Close() returned before semaphore was released")
	case <-time.After(200 * time.Millisecond):
	}

	tr.release()

	select {
	case err := <-closeDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return after semaphore release")
	}
}

func TestEnvList(t *testing.T) {
	assert.Nil(t, envList(nil))
	assert.Equal(t, []string{"A=1", "B=two"}, envList(map[string]string{"B": "two", "A": "1"}))
}

func TestStdioTransport_CloseContextKillsLingeringServer(t *testing.T) {
	tr := helperTransport(t, "linger")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, NewClient("linger", tr, nil).Initialize(ctx))

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer closeCancel()

	start := time.Now()
	_ = tr.CloseContext(closeCtx)
	assert.Less(t, time.Since(start), tr.config.StopGrace, "close outlived its context")
	assert.Nil(t, tr.cmd)

	assert.NoError(t, tr.Close())
}

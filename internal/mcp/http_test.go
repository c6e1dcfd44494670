package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimChild/mcp-chat/internal/demoserver"
	"github.com/TimChild/mcp-chat/internal/logging"
)

func TestHTTPTransport_DemoServer(t *testing.T) {
	tests := []struct {
		name string
		opts *sdk.StreamableHTTPOptions
	}{
		{name: "event stream replies", opts: nil},
		{name: "json replies", opts: &sdk.StreamableHTTPOptions{JSONResponse: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := demoserver.New(nil)
			handler := sdk.NewStreamableHTTPHandler(func(*http.Request) *sdk.Server { return srv }, tt.opts)
			ts := httptest.NewServer(handler)
			defer ts.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			tr := NewHTTPTransport(HTTPConfig{URL: ts.URL, Logger: logging.Discard()})
			client := NewClient("demo", tr, nil)
			require.NoError(t, client.Initialize(ctx))
			assert.NotEmpty(t, tr.SessionID())

			tools, err := client.ListTools(ctx)
			require.NoError(t, err)
			assert.Len(t, tools, len(demoserver.ToolNames))

			out, err := client.CallTool(ctx, "echo", map[string]any{"text": "round trip"})
			require.NoError(t, err)
			assert.Equal(t, "round trip", out)

			require.NoError(t, client.Ping(ctx))
			require.NoError(t, client.Close())
			assert.Empty(t, tr.SessionID())
		})
	}
}

func TestHTTPTransport_MCPGoServer(t *testing.T) {
	ts := server.NewTestStreamableHTTPServer(newGreeterServer())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := NewClient("greeter", NewHTTPTransport(HTTPConfig{URL: ts.URL}), nil)
	require.NoError(t, client.Initialize(ctx))
	assert.Equal(t, "greeter", client.ServerInfo().Name)

	out, err := client.CallTool(ctx, "greet", map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"greeting": "hello, ada"}, DecodeOutput(out))

	assert.NoError(t, client.Close())
}

// scriptedServer answers every POST with a fixed JSON-RPC result and
// records the headers it saw.
type scriptedServer struct {
	mu      sync.Mutex
	headers []http.Header
	methods []string
	deletes int
}

func (s *scriptedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.headers = append(s.headers, r.Header.Clone())
	if r.Method == http.MethodDelete {
		s.deletes++
		s.mu.Unlock()
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.mu.Unlock()

	var msg struct {
		ID     *int64 `json:"id"`
		Method string `json:"method"`
	}
	body, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(body, &msg)

	s.mu.Lock()
	s.methods = append(s.methods, msg.Method)
	s.mu.Unlock()

	if msg.ID == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	result := `{}`
	if msg.Method == "initialize" {
		w.Header().Set(headerSessionID, "session-1")
		result = `{"protocolVersion":"2025-03-26","serverInfo":{"name":"scripted","version":"1"}}`
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":`+jsonInt(*msg.ID)+`,"result":`+result+`}`)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestHTTPTransport_SessionHeaders(t *testing.T) {
	ss := &scriptedServer{}
	ts := httptest.NewServer(ss)
	defer ts.Close()

	tr := NewHTTPTransport(HTTPConfig{
		URL:     ts.URL,
		Headers: map[string]string{"Authorization": "Bearer token"},
	})
	client := NewClient("scripted", tr, nil)

	ctx := context.Background()
	require.NoError(t, client.Initialize(ctx))
	require.NoError(t, client.Ping(ctx))
	require.NoError(t, tr.Close())

	ss.mu.Lock()
	defer ss.mu.Unlock()

	require.Len(t, ss.headers, 4)
	assert.Equal(t, []string{"initialize", "notifications/initialized", "ping"}, ss.methods)

	first := ss.headers[0]
	assert.Equal(t, "Bearer token", first.Get("Authorization"))
	assert.Equal(t, acceptBoth, first.Get("Accept"))
	assert.Equal(t, "application/json", first.Get("Content-Type"))
	assert.Empty(t, first.Get(headerSessionID))
	assert.Empty(t, first.Get(headerProtocolVersion))

	for _, h := range ss.headers[1:] {
		assert.Equal(t, "session-1", h.Get(headerSessionID))
		assert.Equal(t, "Bearer token", h.Get("Authorization"))
	}
	assert.Equal(t, "2025-03-26", ss.headers[2].Get(headerProtocolVersion))
	assert.Equal(t, 1, ss.deletes)
}

func TestHTTPTransport_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer ts.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: ts.URL})
	_, err := tr.Send(context.Background(), NewRequest(1, "ping", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream exploded")

	err = tr.Notify(context.Background(), NewNotification("notifications/initialized", nil))
	require.Error(t, err)
}

func TestHTTPTransport_HonorsContext(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewHTTPTransport(HTTPConfig{URL: ts.URL}).Send(ctx, NewRequest(1, "initialize", nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestReadEventStream(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name: "single event",
			body: "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":3,\"result\":{\"ok\":true}}\n\n",
		},
		{
			name: "skips notifications and other ids",
			body: ": keepalive\n" +
				"data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\",\"params\":{}}\n\n" +
				"data: {\"jsonrpc\":\"2.0\",\"id\":99,\"result\":{}}\n\n" +
				"id: 7\ndata: {\"jsonrpc\":\"2.0\",\"id\":3,\n" +
				"data: \"result\":{\"ok\":true}}\n\n",
		},
		{
			name: "final event without blank line",
			body: "data: {\"jsonrpc\":\"2.0\",\"id\":3,\"result\":{\"ok\":true}}",
		},
		{
			name:    "stream ends first",
			body:    "data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := readEventStream(context.Background(), strings.NewReader(tt.body), 3, logging.Discard())
			if tt.wantErr {
				require.ErrorIs(t, err, errStreamEnded)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
		})
	}
}

func TestHTTPTransport_CloseContextBoundsDelete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			<-r.Context().Done()
			return
		}
		w.Header().Set(headerSessionID, "session-slow")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":{}}`)
	}))
	defer ts.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: ts.URL})
	_, err := tr.Send(context.Background(), NewRequest(1, "ping", nil))
	require.NoError(t, err)
	require.Equal(t, "session-slow", tr.SessionID())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = tr.CloseContext(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, tr.SessionID())
}

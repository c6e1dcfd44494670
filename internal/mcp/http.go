package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/TimChild/mcp-chat/internal/httpkit"
	"github.com/TimChild/mcp-chat/internal/logging"
)

// Streamable HTTP headers.
const (
	headerSessionID       = "Mcp-Session-Id"
	headerProtocolVersion = "Mcp-Protocol-Version"
	acceptBoth            = "application/json, text/event-stream"
)

// maxResponseBytes caps a single response body or SSE event.
const maxResponseBytes = 10 << 20

// HTTPConfig configures an HTTP MCP transport that communicates with a
// remote MCP server over streamable HTTP (JSON-RPC over POST).
type HTTPConfig struct {
	// URL is the MCP server endpoint.
	URL string

	// Headers are additional HTTP headers sent with every request
	// (e.g., Authorization).
	Headers map[string]string

	// HTTPClient overrides the httpkit default client.
	HTTPClient *http.Client

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// HTTPTransport communicates with an MCP server over streamable HTTP.
// Each JSON-RPC message is an HTTP POST. The server answers either with
// a JSON body or with a short SSE stream that ends after the response
// event. The session id assigned on initialize is echoed on every later
// request and released with DELETE on Close.
type HTTPTransport struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger

	mu              sync.RWMutex
	sessionID       string
	protocolVersion string
}

// NewHTTPTransport creates an HTTP transport for the given config.
// The underlying HTTP client is constructed via httpkit.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		// Request deadlines come from the caller's context; tool calls
		// may legitimately run long.
		client = httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithLogger(logger),
		)
	}

	return &HTTPTransport{
		url:        cfg.URL,
		headers:    cfg.Headers,
		httpClient: client,
		logger:     logger,
	}
}

// SessionID returns the server-assigned session id, if any.
func (t *HTTPTransport) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}

// Send posts a JSON-RPC request and returns the matching response.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	t.logger.Log(ctx, logging.LevelTrace, "MCP request", "payload", string(body))

	httpResp, err := t.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	if httpResp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 1<<20)
		return nil, fmt.Errorf("MCP server returned %d: %s", httpResp.StatusCode, errBody)
	}

	var resp *Response
	mediaType, _, _ := mime.ParseMediaType(httpResp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		resp, err = readEventStream(ctx, httpResp.Body, req.ID, t.logger)
	} else {
		resp, err = readJSONBody(httpResp.Body, req.ID)
	}
	if err != nil {
		return nil, err
	}

	if req.Method == "initialize" && resp.Error == nil {
		t.rememberProtocolVersion(resp.Result)
	}
	return resp, nil
}

// Notify posts a JSON-RPC notification. Servers answer 202 Accepted,
// though 200 and 204 are tolerated.
func (t *HTTPTransport) Notify(ctx context.Context, notif *Notification) error {
	body, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	httpResp, err := t.post(ctx, body)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	switch httpResp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	default:
		errBody := httpkit.ReadErrorBody(httpResp.Body, 1<<20)
		return fmt.Errorf("MCP server returned %d for notification: %s", httpResp.StatusCode, errBody)
	}
}

// Close ends the server-side session with DELETE when one was assigned.
// Servers that do not support explicit termination answer 405, which
// is not an error.
func (t *HTTPTransport) Close() error {
	return t.CloseContext(context.Background())
}

// CloseContext is Close with the DELETE bounded by ctx as well.
func (t *HTTPTransport) CloseContext(ctx context.Context) error {
	t.mu.Lock()
	sid := t.sessionID
	t.sessionID = ""
	t.mu.Unlock()

	if sid == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, httpkit.DefaultDialTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.url, nil)
	if err != nil {
		return fmt.Errorf("create HTTP request: %w", err)
	}
	t.applyHeaders(req)
	req.Header.Set(headerSessionID, sid)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("terminate MCP session: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent,
		http.StatusNotFound, http.StatusMethodNotAllowed:
		return nil
	default:
		return fmt.Errorf("terminate MCP session: server returned %d", resp.StatusCode)
	}
}

func (t *HTTPTransport) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", acceptBoth)
	t.applyHeaders(httpReq)

	t.mu.RLock()
	if t.sessionID != "" {
		httpReq.Header.Set(headerSessionID, t.sessionID)
	}
	if t.protocolVersion != "" {
		httpReq.Header.Set(headerProtocolVersion, t.protocolVersion)
	}
	t.mu.RUnlock()

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to %s: %w", t.url, err)
	}

	if sid := httpResp.Header.Get(headerSessionID); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
	return httpResp, nil
}

func (t *HTTPTransport) applyHeaders(req *http.Request) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
}

func (t *HTTPTransport) rememberProtocolVersion(result json.RawMessage) {
	var init struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if err := json.Unmarshal(result, &init); err != nil || init.ProtocolVersion == "" {
		return
	}
	t.mu.Lock()
	t.protocolVersion = init.ProtocolVersion
	t.mu.Unlock()
}

func readJSONBody(r io.Reader, id int64) (*Response, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	resp, ok, err := decodeResponse(data, id)
	if err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("response does not answer request %d", id)
	}
	return resp, nil
}

// errStreamEnded is returned when an SSE reply closes without the
// response event.
var errStreamEnded = errors.New("event stream ended before response")

// readEventStream scans an SSE body for the event carrying the response
// to id. Progress notifications and server requests are skipped.
func readEventStream(ctx context.Context, r io.Reader, id int64, logger *slog.Logger) (*Response, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseBytes)

	var data []string
	flush := func() (*Response, bool) {
		if len(data) == 0 {
			return nil, false
		}
		payload := strings.Join(data, "\n")
		data = data[:0]

		resp, ok, err := decodeResponse([]byte(payload), id)
		if err != nil || !ok {
			logger.Log(ctx, logging.LevelTrace, "skipping MCP event", "payload", payload)
			return nil, false
		}
		logger.Log(ctx, logging.LevelTrace, "MCP response", "payload", payload)
		return resp, true
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if resp, ok := flush(); ok {
				return resp, nil
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		// event:, id:, retry: and comments carry nothing we need.
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	if resp, ok := flush(); ok {
		return resp, nil
	}
	return nil, errStreamEnded
}

package httpkit

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimChild/mcp-chat/internal/buildinfo"
)

func TestNewClient_Timeouts(t *testing.T) {
	assert.Equal(t, 30*time.Second, NewClient().Timeout)
	assert.Equal(t, 5*time.Second, NewClient(WithTimeout(5*time.Second)).Timeout)
	assert.Zero(t, NewClient(WithTimeout(0)).Timeout)
}

func TestNewClient_ResponseHeaderTimeout(t *testing.T) {
	tr := NewTransport()
	NewClient(WithTransport(tr), WithResponseHeaderTimeout(2*time.Minute))
	assert.Equal(t, 2*time.Minute, tr.ResponseHeaderTimeout)
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	tests := []struct {
		name   string
		opts   []ClientOption
		header string
		want   string
	}{
		{name: "default", want: buildinfo.UserAgent()},
		{name: "override", opts: []ClientOption{WithUserAgent("probe/1.0")}, want: "probe/1.0"},
		{name: "caller header wins", header: "custom/2", want: "custom/2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("User-Agent", tt.header)
			}

			resp, err := NewClient(tt.opts...).Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(body))
		})
	}
}

func TestReadErrorBody(t *testing.T) {
	assert.Equal(t, "", ReadErrorBody(nil, 10))
	assert.Equal(t, "bad request", ReadErrorBody(io.NopCloser(strings.NewReader("bad request")), 100))
	assert.Equal(t, "bad", ReadErrorBody(io.NopCloser(strings.NewReader("bad request")), 3))
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestDrainAndClose(t *testing.T) {
	DrainAndClose(nil, 10)

	rc := &closeRecorder{Reader: strings.NewReader(strings.Repeat("x", 100))}
	DrainAndClose(rc, 10)
	assert.True(t, rc.closed)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"refused", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, true},
		{"host unreachable", syscall.EHOSTUNREACH, true},
		{"network unreachable", syscall.ENETUNREACH, true},
		{"reset", syscall.ECONNRESET, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

type scriptedRoundTripper struct {
	errs  []error
	calls int
}

func (s *scriptedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
}

func TestRetryTransport(t *testing.T) {
	t.Run("retries connect errors", func(t *testing.T) {
		base := &scriptedRoundTripper{errs: []error{syscall.ECONNREFUSED, syscall.ECONNREFUSED}}
		rt := &retryTransport{base: base, count: 3, delay: time.Millisecond}

		req := httptest.NewRequest(http.MethodGet, "http://example.invalid", nil)
		resp, err := rt.RoundTrip(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 3, base.calls)
	})

	t.Run("gives up after count", func(t *testing.T) {
		base := &scriptedRoundTripper{errs: []error{
			syscall.EHOSTUNREACH, syscall.EHOSTUNREACH, syscall.EHOSTUNREACH,
		}}
		rt := &retryTransport{base: base, count: 2, delay: time.Millisecond}

		_, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://example.invalid", nil))
		require.Error(t, err)
		assert.Equal(t, 3, base.calls)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		base := &scriptedRoundTripper{errs: []error{errors.New("tls handshake")}}
		rt := &retryTransport{base: base, count: 3, delay: time.Millisecond}

		_, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://example.invalid", nil))
		require.Error(t, err)
		assert.Equal(t, 1, base.calls)
	})

	t.Run("stops on context cancel", func(t *testing.T) {
		base := &scriptedRoundTripper{errs: []error{syscall.ECONNREFUSED, syscall.ECONNREFUSED}}
		rt := &retryTransport{base: base, count: 5, delay: time.Hour}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := httptest.NewRequest(http.MethodGet, "http://example.invalid", nil).WithContext(ctx)

		_, err := rt.RoundTrip(req)
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, base.calls)
	})
}

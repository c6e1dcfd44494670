package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TimChild/mcp-chat/internal/tools"
)

// Default connection budgets.
const (
	DefaultProbeTimeout = 1 * time.Second
	DefaultInitTimeout  = 5 * time.Second
)

// SessionState is the lifecycle state of one server's session.
type SessionState int

// Session states reported by Manager.Status.
const (
	StateUninitialized SessionState = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// FailedServer is a server that failed its probe. It is kept for
// diagnostics and never retried by the Manager that recorded it.
type FailedServer struct {
	Name string
	Spec ConnectionSpec
	Err  error
}

// ServerStatus is a point-in-time view of one configured server.
type ServerStatus struct {
	Name      string
	Transport TransportKind
	State     SessionState
	Tools     int
	Info      ServerInfo
	Err       error
}

// DialFunc opens a transport for spec.
type DialFunc func(ctx context.Context, spec ConnectionSpec, logger *slog.Logger) (Transport, error)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Servers are the MCP servers to manage. Names must be unique.
	Servers []ConnectionSpec

	// ProbeTimeout bounds each reachability probe, including closing the
	// probe connection, and each session close on teardown. Zero means
	// one second.
	ProbeTimeout time.Duration

	// InitTimeout bounds each session handshake plus tool listing.
	// Zero means five seconds.
	InitTimeout time.Duration

	Logger *slog.Logger

	// Dial opens transports. Nil means ConnectionSpec.Open.
	Dial DialFunc
}

// serverState tracks one server outside the lifecycle lock so Status
// can report progress while a connect is running.
type serverState struct {
	state SessionState
	err   error
}

// Manager owns sessions to a set of MCP servers. Sessions exist only
// while at least one caller holds the manager via Acquire (or Do);
// nested acquisitions share the sessions opened by the outermost one.
type Manager struct {
	specs        []ConnectionSpec
	probeTimeout time.Duration
	initTimeout  atomic.Int64
	logger       *slog.Logger
	dial         DialFunc

	// mu serializes connect and teardown and guards depth.
	mu    sync.Mutex
	depth int

	stateMu  sync.RWMutex
	sessions map[string]*Client
	states   map[string]*serverState
	failed   map[string]*FailedServer
	catalog  *Catalog
}

// NewManager validates cfg and returns an idle Manager. No connection
// is made until the first Acquire.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = DefaultInitTimeout
	}
	dial := cfg.Dial
	if dial == nil {
		dial = func(ctx context.Context, spec ConnectionSpec, logger *slog.Logger) (Transport, error) {
			return spec.Open(ctx, logger)
		}
	}

	specs := append([]ConnectionSpec(nil), cfg.Servers...)
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })

	states := make(map[string]*serverState, len(specs))
	var errs []error
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := states[s.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate server name %q", s.Name))
			continue
		}
		states[s.Name] = &serverState{}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	m := &Manager{
		specs:        specs,
		probeTimeout: cfg.ProbeTimeout,
		logger:       logger.With("component", "mcp_manager"),
		dial:         dial,
		sessions:     make(map[string]*Client),
		states:       states,
		failed:       make(map[string]*FailedServer),
	}
	m.initTimeout.Store(int64(cfg.InitTimeout))
	return m, nil
}

// SetConnectionTimeout changes the session init timeout used by the
// next connect. Sessions already open are unaffected.
func (m *Manager) SetConnectionTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultInitTimeout
	}
	m.initTimeout.Store(int64(d))
}

// Acquire enters a session scope. The outermost Acquire probes every
// server and opens sessions to the reachable ones; nested calls only
// increase the depth. If ctx ends during the connect, any sessions
// already opened are closed and the depth is unchanged.
func (m *Manager) Acquire(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.depth == 0 {
		if err := m.connectAll(ctx); err != nil {
			return err
		}
	}
	m.depth++
	return nil
}

// Release leaves a session scope. The release that brings the depth to
// zero closes every session.
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.depth == 0 {
		return &ReentrancyError{Depth: 0}
	}
	m.depth--
	if m.depth == 0 {
		m.teardown()
	}
	return nil
}

// Depth returns the current nesting depth.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth
}

// Do runs fn inside a session scope. The scope is released when fn
// returns, including on panic.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := m.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if rerr := m.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(ctx)
}

// GetTools returns the dispatchable tools of every ready server.
func (m *Manager) GetTools(ctx context.Context) ([]ToolDefinition, error) {
	var out []ToolDefinition
	err := m.Do(ctx, func(context.Context) error {
		out = m.currentCatalog().Tools()
		return nil
	})
	return out, err
}

// GetToolsByServer returns each ready server's tool listing.
func (m *Manager) GetToolsByServer(ctx context.Context) (map[string][]ToolDefinition, error) {
	var out map[string][]ToolDefinition
	err := m.Do(ctx, func(context.Context) error {
		out = m.currentCatalog().ByServer()
		return nil
	})
	return out, err
}

// InvokeTool calls tool on server and decodes its output with
// DecodeOutput.
func (m *Manager) InvokeTool(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	var out any
	err := m.Do(ctx, func(ctx context.Context) error {
		text, err := m.call(ctx, server, tool, args)
		if err != nil {
			return err
		}
		out = DecodeOutput(text)
		return nil
	})
	return out, err
}

// OpenTools enters a session scope and returns the catalog as a tool
// registry. The caller must invoke release exactly once; further calls
// are no-ops.
func (m *Manager) OpenTools(ctx context.Context) (*tools.Registry, func() error, error) {
	if err := m.Acquire(ctx); err != nil {
		return nil, nil, err
	}

	var once sync.Once
	release := func() error {
		var err error
		once.Do(func() { err = m.Release() })
		return err
	}

	reg, err := BridgeCatalog(m.currentCatalog(), m.call, m.logger)
	if err != nil {
		_ = release()
		return nil, nil, err
	}
	return reg, release, nil
}

// Failed returns the servers that failed their probe, by name.
func (m *Manager) Failed() []FailedServer {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	out := make([]FailedServer, 0, len(m.failed))
	for _, f := range m.failed {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Status reports every configured server, by name.
func (m *Manager) Status() []ServerStatus {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	out := make([]ServerStatus, 0, len(m.specs))
	for _, spec := range m.specs {
		st := m.states[spec.Name]
		s := ServerStatus{
			Name:      spec.Name,
			Transport: spec.Transport,
			State:     st.state,
			Err:       st.err,
		}
		if c, ok := m.sessions[spec.Name]; ok {
			s.Info = c.ServerInfo()
		}
		if m.catalog != nil {
			s.Tools = len(m.catalog.byServer[spec.Name])
		}
		out = append(out, s)
	}
	return out
}

func (m *Manager) currentCatalog() *Catalog {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.catalog
}

// call resolves the session for server and invokes tool on it.
func (m *Manager) call(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	m.stateMu.RLock()
	st, configured := m.states[server]
	var cause error
	if f, ok := m.failed[server]; ok {
		cause = f.Err
	} else if configured {
		cause = st.err
	}
	client, ready := m.sessions[server]
	listed := m.catalog.Has(server, tool)
	m.stateMu.RUnlock()

	if !ready {
		return "", &UnknownServerError{Server: server, Cause: cause}
	}
	if !listed {
		return "", &UnknownToolError{Server: server, Tool: tool}
	}
	return client.CallTool(ctx, tool, args)
}

func (m *Manager) setState(name string, state SessionState, err error) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.states[name] = &serverState{state: state, err: err}
}

// connectAll probes every server not already failed, then opens
// sessions to the survivors. Caller must hold mu.
func (m *Manager) connectAll(ctx context.Context) error {
	start := time.Now()

	m.stateMu.RLock()
	var pending []ConnectionSpec
	for _, spec := range m.specs {
		if _, failed := m.failed[spec.Name]; !failed {
			pending = append(pending, spec)
		}
	}
	m.stateMu.RUnlock()

	probeErrs := make([]error, len(pending))
	var wg sync.WaitGroup
	for i, spec := range pending {
		m.setState(spec.Name, StateInitializing, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			probeErrs[i] = m.probe(ctx, spec)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		m.resetStates(pending)
		return fmt.Errorf("probe MCP servers: %w", err)
	}

	var survivors []ConnectionSpec
	for i, spec := range pending {
		if probeErrs[i] == nil {
			survivors = append(survivors, spec)
			continue
		}
		m.logger.Warn("MCP server failed probe, disabling",
			"mcp_server", spec.Name,
			"error", probeErrs[i],
		)
		m.stateMu.Lock()
		m.failed[spec.Name] = &FailedServer{Name: spec.Name, Spec: spec, Err: probeErrs[i]}
		m.states[spec.Name] = &serverState{state: StateFailed, err: probeErrs[i]}
		m.stateMu.Unlock()
	}

	initTimeout := time.Duration(m.initTimeout.Load())
	clients := make([]*Client, len(survivors))
	toolLists := make([][]ToolDefinition, len(survivors))
	initErrs := make([]error, len(survivors))
	for i, spec := range survivors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clients[i], toolLists[i], initErrs[i] = m.openSession(ctx, spec, initTimeout)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		opened := make(map[string]*Client, len(clients))
		for i, c := range clients {
			if c != nil {
				opened[survivors[i].Name] = c
			}
		}
		m.closeSessions(opened)
		m.resetStates(survivors)
		return fmt.Errorf("open MCP sessions: %w", err)
	}

	lists := make(map[string][]ToolDefinition, len(survivors))
	sessions := make(map[string]*Client, len(survivors))
	for i, spec := range survivors {
		if initErrs[i] != nil {
			m.logger.Warn("MCP session initialization failed",
				"mcp_server", spec.Name,
				"timeout", initTimeout,
				"error", initErrs[i],
			)
			m.setState(spec.Name, StateFailed, initErrs[i])
			continue
		}
		sessions[spec.Name] = clients[i]
		lists[spec.Name] = toolLists[i]
		m.setState(spec.Name, StateReady, nil)
	}

	catalog := newCatalog(lists, m.logger)

	m.stateMu.Lock()
	m.sessions = sessions
	m.catalog = catalog
	m.stateMu.Unlock()

	m.logger.Info("MCP sessions ready",
		"ready", len(sessions),
		"configured", len(m.specs),
		"tools", len(catalog.order),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// probe checks that spec answers initialize and ping within the probe
// timeout. The probe connection is always closed.
func (m *Manager) probe(ctx context.Context, spec ConnectionSpec) error {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	t, err := m.dial(ctx, spec, m.logger)
	if err != nil {
		return &ServerProbeError{Server: spec.Name, Err: err}
	}
	c := NewClient(spec.Name, t, m.logger)
	// Runs before cancel, so closing shares the probe deadline.
	defer func() {
		if err := c.CloseContext(ctx); err != nil {
			m.logger.Debug("close probe connection", "mcp_server", spec.Name, "error", err)
		}
	}()

	if err := c.Initialize(ctx); err != nil {
		return &ServerProbeError{Server: spec.Name, Err: err}
	}
	if err := c.Ping(ctx); err != nil {
		return &ServerProbeError{Server: spec.Name, Err: fmt.Errorf("ping: %w", err)}
	}
	return nil
}

// openSession dials spec, performs the handshake and lists tools, all
// within timeout. A failed session is closed within the same deadline.
func (m *Manager) openSession(ctx context.Context, spec ConnectionSpec, timeout time.Duration) (*Client, []ToolDefinition, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t, err := m.dial(ctx, spec, m.logger)
	if err != nil {
		return nil, nil, &SessionInitError{Server: spec.Name, Err: err}
	}
	c := NewClient(spec.Name, t, m.logger)

	if err := c.Initialize(ctx); err != nil {
		_ = c.CloseContext(ctx)
		return nil, nil, &SessionInitError{Server: spec.Name, Err: err}
	}
	defs, err := c.ListTools(ctx)
	if err != nil {
		_ = c.CloseContext(ctx)
		return nil, nil, &SessionInitError{Server: spec.Name, Err: err}
	}
	return c, defs, nil
}

// teardown closes every session, each bounded by the probe timeout.
// Caller must hold mu.
func (m *Manager) teardown() {
	m.stateMu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Client)
	m.catalog = nil
	for name, st := range m.states {
		if _, failed := m.failed[name]; !failed {
			m.states[name] = &serverState{state: StateUninitialized, err: st.err}
		}
	}
	m.stateMu.Unlock()

	m.closeSessions(sessions)
	m.logger.Debug("MCP sessions closed", "count", len(sessions))
}

// closeSessions closes sessions in parallel, each bounded by the probe
// timeout.
func (m *Manager) closeSessions(sessions map[string]*Client) {
	ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for name, c := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.CloseContext(ctx); err != nil {
				m.logger.Debug("close MCP session", "mcp_server", name, "error", err)
			}
		}()
	}
	wg.Wait()
}

func (m *Manager) resetStates(specs []ConnectionSpec) {
	for _, spec := range specs {
		m.setState(spec.Name, StateUninitialized, nil)
	}
}

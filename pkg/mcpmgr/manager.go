package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcpconfig"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcperr"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/telemetry"
)

// State is the lifecycle state of a downstream session.
type State string

const (
	// StateIdle means no connection has been attempted yet.
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateReady      State = "ready"
	StateFailed     State = "failed"
	StateClosed     State = "closed"
	// StateDisabled is reported for servers marked disabled in the
	// configuration. They never leave it.
	StateDisabled State = "disabled"
)

// ServerStatus summarizes one configured server.
type ServerStatus struct {
	Name        string              `json:"name"`
	Transport   mcpconfig.Transport `json:"transport"`
	Disabled    bool                `json:"disabled"`
	State       State               `json:"state"`
	Instruction string              `json:"instruction,omitempty"`
	Blacklist   []string            `json:"toolBlacklist,omitempty"`
	Tools       int                 `json:"tools"`
	Error       *mcperr.Error       `json:"error,omitempty"`
}

// ToolListing is the result of ListTools. Errors holds per-server connection
// failures; the tools of the servers that did connect are still listed.
type ToolListing struct {
	Tools  []ToolDescriptor         `json:"tools"`
	Errors map[string]*mcperr.Error `json:"errors,omitempty"`
}

// InvokeResult reports the outcome of a single tool invocation.
type InvokeResult struct {
	OK          bool                `json:"ok"`
	Server      string              `json:"server,omitempty"`
	Tool        string              `json:"tool,omitempty"`
	ExposedName string              `json:"exposedName"`
	Result      *mcp.CallToolResult `json:"result,omitempty"`
	Error       *mcperr.Error       `json:"error,omitempty"`
	Duration    time.Duration       `json:"duration"`
}

// Manager owns the downstream sessions. Sessions are opened on first use and
// reused until they close, the server's configuration changes, or Shutdown
// is called.
type Manager struct {
	source     ConfigSource
	options    ManagerOptions
	transports TransportFactory
	rpcLogger  RPCLogger
	index      *toolIndex
	progress   *progressTracker

	// connCtx parents every connection attempt; Shutdown cancels it.
	connCtx     context.Context
	cancelConns context.CancelFunc
	connecting  sync.WaitGroup

	mu           sync.RWMutex
	states       map[string]*managedState
	shuttingDown bool
}

type managedState struct {
	spec       mcpconfig.ServerSpec
	state      State
	lastErr    *mcperr.Error
	session    *mcp.ClientSession
	toolsStale bool
	pending    *connectAttempt
}

// connectAttempt is shared by every caller waiting on the same connection.
// session and err are written before done is closed.
type connectAttempt struct {
	done    chan struct{}
	session *mcp.ClientSession
	err     *mcperr.Error
}

// NewManager creates a manager that reads its server set from source.
func NewManager(source ConfigSource, opts *ManagerOptions) *Manager {
	o := opts.normalized()
	m := &Manager{
		source:     source,
		options:    o,
		transports: o.TransportFactory,
		rpcLogger:  o.RPCLogger,
		index:      newToolIndex(o.Namespace, o.Logger),
		progress:   newProgressTracker(o.Logger),
		states:     make(map[string]*managedState),
	}
	m.connCtx, m.cancelConns = context.WithCancel(context.Background())
	if m.transports == nil {
		m.transports = DefaultTransports(o.HTTPClient)
	}
	if m.rpcLogger == nil && o.LogJSONRPC {
		m.rpcLogger = slogRPCLogger(o.Logger)
	}
	return m
}

// Config returns the current configuration without connecting anything.
func (m *Manager) Config(ctx context.Context) (*mcpconfig.Resolved, error) {
	return m.source.Resolve(ctx, false)
}

// Reload forces a configuration reload and drops sessions whose server was
// removed, disabled, or changed.
func (m *Manager) Reload(ctx context.Context) error {
	cfg, err := m.source.Resolve(ctx, true)
	if err != nil {
		return err
	}
	m.reconcile(cfg)
	return nil
}

func (m *Manager) syncConfig(ctx context.Context) (*mcpconfig.Resolved, error) {
	cfg, err := m.source.Resolve(ctx, false)
	if err != nil {
		return nil, err
	}
	m.reconcile(cfg)
	return cfg, nil
}

func (m *Manager) reconcile(cfg *mcpconfig.Resolved) {
	var stale []*mcp.ClientSession
	m.mu.Lock()
	for name, st := range m.states {
		spec, ok := cfg.Server(name)
		if ok && !spec.Disabled && reflect.DeepEqual(spec, st.spec) {
			continue
		}
		m.options.Logger.Info("server configuration changed; dropping session", "server", name)
		if st.session != nil {
			stale = append(stale, st.session)
			st.session = nil
		}
		st.state = StateClosed
		delete(m.states, name)
		m.index.RemoveServer(name)
	}
	m.mu.Unlock()
	for _, s := range stale {
		go func(s *mcp.ClientSession) { _ = s.Close() }(s)
	}
}

func (m *Manager) timeoutFor(spec mcpconfig.ServerSpec) time.Duration {
	if spec.Timeout > 0 {
		return spec.Timeout
	}
	return m.options.DefaultTimeout
}

// ensureSession returns the ready session for spec, connecting if needed.
// At most one connection attempt per server is in flight; concurrent
// callers wait for it.
func (m *Manager) ensureSession(ctx context.Context, spec mcpconfig.ServerSpec) (*mcp.ClientSession, *mcperr.Error) {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return nil, mcperr.New(mcperr.KindConnectionFailed, "manager is shutting down").WithServer(spec.Name)
	}
	st, ok := m.states[spec.Name]
	if !ok {
		st = &managedState{spec: spec, state: StateIdle}
		m.states[spec.Name] = st
	}
	if st.state == StateReady && st.session != nil {
		session := st.session
		m.mu.Unlock()
		return session, nil
	}
	attempt := st.pending
	if attempt == nil {
		attempt = &connectAttempt{done: make(chan struct{})}
		st.pending = attempt
		st.state = StateConnecting
		m.connecting.Add(1)
		go m.connect(st, attempt)
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, mcperr.From(ctx.Err(), mcperr.KindConnectionFailed).WithServer(spec.Name)
	case <-attempt.done:
		return attempt.session, attempt.err
	}
}

// connect runs one attempt detached from any single caller, bounded by the
// server timeout.
func (m *Manager) connect(st *managedState, attempt *connectAttempt) {
	defer m.connecting.Done()
	spec := st.spec
	ctx, cancel := context.WithTimeout(m.connCtx, m.timeoutFor(spec))
	defer cancel()

	session, tools, connErr := m.establishSession(ctx, spec)

	m.mu.Lock()
	st.pending = nil
	discard := m.shuttingDown || m.states[spec.Name] != st
	switch {
	case discard:
		st.state = StateClosed
		attempt.err = mcperr.New(mcperr.KindConnectionFailed, "session closed while connecting").WithServer(spec.Name)
	case connErr != nil:
		st.state = StateFailed
		st.lastErr = connErr
		attempt.err = connErr
	default:
		st.state = StateReady
		st.session = session
		st.lastErr = nil
		st.toolsStale = false
		m.index.UpdateTools(spec.Name, tools, spec.ToolBlacklist)
		attempt.session = session
	}
	m.mu.Unlock()
	close(attempt.done)

	if discard {
		if session != nil {
			_ = session.Close()
		}
		return
	}
	if connErr == nil {
		m.options.Logger.Info("server connected", "server", spec.Name, "transport", string(spec.Transport), "tools", len(tools))
		go m.monitorSession(st, session)
	} else {
		m.options.Logger.Warn("server connection failed", "server", spec.Name, "error", connErr)
	}
}

func (m *Manager) establishSession(ctx context.Context, spec mcpconfig.ServerSpec) (*mcp.ClientSession, []*mcp.Tool, *mcperr.Error) {
	transports, err := m.transports(spec)
	if err != nil {
		m.options.Metrics.ConnectionAttempt(spec.Name, telemetry.OutcomeFailure)
		return nil, nil, mcperr.Wrap(mcperr.KindConnectionFailed, err, "build transport").WithServer(spec.Name)
	}
	impl := &mcp.Implementation{Name: m.options.ClientName, Version: m.options.ClientVersion}

	var errs []error
	for _, transport := range transports {
		if m.rpcLogger != nil {
			transport = &loggingTransport{serverName: spec.Name, delegate: transport, logger: m.rpcLogger}
		}
		client := mcp.NewClient(impl, m.clientOptions(spec.Name))
		session, err := client.Connect(ctx, transport, nil)
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		tools, err := listAllTools(ctx, session)
		if err != nil {
			_ = session.Close()
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		m.options.Metrics.ConnectionAttempt(spec.Name, telemetry.OutcomeSuccess)
		return session, tools, nil
	}

	cause := errors.Join(errs...)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		m.options.Metrics.ConnectionAttempt(spec.Name, telemetry.OutcomeTimeout)
		return nil, nil, mcperr.Wrap(mcperr.KindTimeout, cause, "connect timed out after %s", m.timeoutFor(spec)).WithServer(spec.Name)
	}
	m.options.Metrics.ConnectionAttempt(spec.Name, telemetry.OutcomeFailure)
	return nil, nil, mcperr.Wrap(mcperr.KindConnectionFailed, cause, "connect to %s server", spec.Transport).WithServer(spec.Name)
}

func (m *Manager) clientOptions(serverName string) *mcp.ClientOptions {
	return &mcp.ClientOptions{
		KeepAlive: m.options.KeepAlive,
		ToolListChangedHandler: func(context.Context, *mcp.ToolListChangedRequest) {
			m.markToolsStale(serverName)
		},
		ProgressNotificationHandler: func(ctx context.Context, req *mcp.ProgressNotificationClientRequest) {
			m.progress.dispatch(ctx, serverName, req.Params)
		},
	}
}

func listAllTools(ctx context.Context, session *mcp.ClientSession) ([]*mcp.Tool, error) {
	var (
		tools  []*mcp.Tool
		cursor string
	)
	for {
		res, err := session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			if isMethodUnavailableError(err, "tools/list") {
				return nil, nil
			}
			return nil, fmt.Errorf("mcpmgr: list tools: %w", err)
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" || res.NextCursor == cursor {
			return tools, nil
		}
		cursor = res.NextCursor
	}
}

func (m *Manager) markToolsStale(serverName string) {
	m.mu.Lock()
	if st, ok := m.states[serverName]; ok {
		st.toolsStale = true
	}
	m.mu.Unlock()
}

// refreshIfStale re-lists the tools of a ready session after the server
// announced a change. Failures keep the previous list.
func (m *Manager) refreshIfStale(ctx context.Context, serverName string) {
	m.mu.Lock()
	st, ok := m.states[serverName]
	if !ok || !st.toolsStale || st.session == nil {
		m.mu.Unlock()
		return
	}
	st.toolsStale = false
	session, spec := st.session, st.spec
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeoutFor(spec))
	defer cancel()
	tools, err := listAllTools(ctx, session)
	if err != nil {
		m.options.Logger.Warn("refresh tool list failed", "server", serverName, "error", err)
		return
	}
	m.mu.Lock()
	if m.states[serverName] == st && st.session == session {
		m.index.UpdateTools(serverName, tools, spec.ToolBlacklist)
	}
	m.mu.Unlock()
}

func (m *Manager) monitorSession(st *managedState, session *mcp.ClientSession) {
	err := session.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.session != session {
		return
	}
	st.session = nil
	st.state = StateClosed
	if m.states[st.spec.Name] == st {
		m.index.RemoveServer(st.spec.Name)
	}
	m.options.Logger.Info("server session closed", "server", st.spec.Name, "error", err)
}

// connectAll connects every named server in parallel and returns the
// failures keyed by server name.
func (m *Manager) connectAll(ctx context.Context, cfg *mcpconfig.Resolved, names []string) map[string]*mcperr.Error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs = make(map[string]*mcperr.Error)
	)
	for _, name := range names {
		spec, _ := cfg.Server(name)
		g.Go(func() error {
			if _, err := m.ensureSession(ctx, spec); err != nil {
				mu.Lock()
				errs[name] = err
				mu.Unlock()
				return nil
			}
			m.refreshIfStale(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// ListTools connects the enabled servers (or only serverFilter) and returns
// their aggregated tools sorted by exposed name.
func (m *Manager) ListTools(ctx context.Context, serverFilter string) (*ToolListing, error) {
	cfg, err := m.syncConfig(ctx)
	if err != nil {
		return nil, err
	}
	names := cfg.Enabled()
	if serverFilter != "" {
		if spec, ok := cfg.Server(serverFilter); !ok || spec.Disabled {
			return nil, unknownServer(serverFilter, ok)
		}
		names = []string{serverFilter}
	}
	errs := m.connectAll(ctx, cfg, names)
	listing := &ToolListing{Tools: m.index.Descriptors(serverFilter)}
	if len(errs) > 0 {
		listing.Errors = errs
	}
	return listing, nil
}

// unknownServer reports a server that cannot be used: found servers are
// disabled, the rest are not configured.
func unknownServer(name string, found bool) *mcperr.Error {
	if found {
		return mcperr.New(mcperr.KindUnknownServer, "server %q is disabled", name).WithServer(name)
	}
	return mcperr.New(mcperr.KindUnknownServer, "server %q is not configured", name).WithServer(name)
}

// Invoke routes toolName to its server and calls it. Failures of any kind are
// reported in the result rather than as an error.
func (m *Manager) Invoke(ctx context.Context, toolName string, args any, serverFilter string) *InvokeResult {
	start := time.Now()
	res := &InvokeResult{ExposedName: toolName}
	fail := func(e *mcperr.Error) *InvokeResult {
		res.Error = e
		res.Duration = time.Since(start)
		return res
	}

	if toolName == "" {
		return fail(mcperr.New(mcperr.KindUnknownTool, "tool name is required"))
	}
	cfg, err := m.syncConfig(ctx)
	if err != nil {
		return fail(mcperr.From(err, mcperr.KindConfigNotFound))
	}
	spec, raw, rerr := m.route(ctx, cfg, toolName, serverFilter)
	if rerr != nil {
		if rerr.Server != "" {
			m.options.Metrics.ToolInvocation(rerr.Server, outcomeFor(rerr), 0)
		}
		return fail(rerr)
	}
	res.Server, res.Tool = spec.Name, raw

	session, serr := m.ensureSession(ctx, spec)
	if serr != nil {
		return fail(serr)
	}
	if args == nil {
		args = map[string]any{}
	}
	params := &mcp.CallToolParams{Name: raw, Arguments: args}
	if b, ok := progressFrom(ctx); ok {
		release := m.progress.track(spec.Name, b, params)
		defer release()
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeoutFor(spec))
	defer cancel()
	out, err := session.CallTool(callCtx, params)
	elapsed := time.Since(start)

	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)):
		res.Error = mcperr.Wrap(mcperr.KindTimeout, err, "tool call timed out after %s", m.timeoutFor(spec)).WithServer(spec.Name).WithTool(raw)
	case err != nil:
		res.Error = mcperr.Wrap(mcperr.KindToolFailed, err, "tool call failed").WithServer(spec.Name).WithTool(raw)
	case out.IsError:
		res.Result = out
		res.Error = mcperr.New(mcperr.KindToolFailed, "%s", toolErrorText(out)).WithServer(spec.Name).WithTool(raw)
	default:
		res.OK = true
		res.Result = out
	}
	res.Duration = elapsed
	if res.OK {
		m.options.Metrics.ToolInvocation(spec.Name, telemetry.OutcomeSuccess, elapsed)
	} else {
		m.options.Metrics.ToolInvocation(spec.Name, outcomeFor(res.Error), elapsed)
		m.options.Logger.Debug("tool invocation failed", "server", spec.Name, "tool", raw, "error", res.Error)
	}
	return res
}

func outcomeFor(e *mcperr.Error) string {
	switch e.Kind {
	case mcperr.KindTimeout:
		return telemetry.OutcomeTimeout
	case mcperr.KindToolBlacklisted:
		return telemetry.OutcomeDenied
	default:
		return telemetry.OutcomeFailure
	}
}

// route resolves the target server and raw tool name.
func (m *Manager) route(ctx context.Context, cfg *mcpconfig.Resolved, toolName, serverFilter string) (mcpconfig.ServerSpec, string, *mcperr.Error) {
	ns := m.options.Namespace
	if serverFilter != "" {
		spec, ok := cfg.Server(serverFilter)
		if !ok || spec.Disabled {
			return mcpconfig.ServerSpec{}, "", unknownServer(serverFilter, ok)
		}
		raw := toolName
		if server, tool, ok := ns.Split(toolName); ok && server == serverFilter {
			raw = tool
		}
		return m.resolveOn(ctx, spec, raw)
	}

	if server, tool, ok := ns.Split(toolName); ok {
		if spec, found := cfg.Server(server); found && !spec.Disabled {
			return m.resolveOn(ctx, spec, tool)
		}
	}
	if spec, raw, ok := m.lookup(cfg, toolName); ok {
		return spec, raw, nil
	}

	errs := m.connectAll(ctx, cfg, cfg.Enabled())
	if spec, raw, ok := m.lookup(cfg, toolName); ok {
		return spec, raw, nil
	}
	for _, name := range cfg.Enabled() {
		if spec, _ := cfg.Server(name); spec.IsBlacklisted(toolName) {
			return mcpconfig.ServerSpec{}, "", mcperr.New(mcperr.KindToolBlacklisted, "tool %q is blacklisted", toolName).WithServer(name).WithTool(toolName)
		}
	}

	msg := fmt.Sprintf("no connected server advertises tool %q", toolName)
	if candidates := m.prefixedCandidates(toolName); len(candidates) > 0 {
		msg += fmt.Sprintf("; did you mean %s", strings.Join(candidates, " or "))
	}
	if len(errs) > 0 {
		msg += fmt.Sprintf(" (%d server(s) failed to connect)", len(errs))
	}
	return mcpconfig.ServerSpec{}, "", mcperr.New(mcperr.KindUnknownTool, "%s", msg).WithTool(toolName)
}

func (m *Manager) lookup(cfg *mcpconfig.Resolved, exposed string) (mcpconfig.ServerSpec, string, bool) {
	target, ok := m.index.Lookup(exposed)
	if !ok {
		return mcpconfig.ServerSpec{}, "", false
	}
	spec, ok := cfg.Server(target.ServerName)
	if !ok || spec.Disabled {
		return mcpconfig.ServerSpec{}, "", false
	}
	return spec, target.RawName, true
}

func (m *Manager) prefixedCandidates(raw string) []string {
	var out []string
	for _, d := range m.index.Descriptors("") {
		if d.RawName == raw && d.ExposedName != raw {
			out = append(out, d.ExposedName)
		}
	}
	return out
}

// resolveOn checks that spec can serve raw: not blacklisted, connectable, and
// advertised by the session.
func (m *Manager) resolveOn(ctx context.Context, spec mcpconfig.ServerSpec, raw string) (mcpconfig.ServerSpec, string, *mcperr.Error) {
	if spec.IsBlacklisted(raw) {
		return spec, raw, mcperr.New(mcperr.KindToolBlacklisted, "tool %q is blacklisted on server %q", raw, spec.Name).WithServer(spec.Name).WithTool(raw)
	}
	if _, err := m.ensureSession(ctx, spec); err != nil {
		return spec, raw, err
	}
	m.refreshIfStale(ctx, spec.Name)
	if !m.index.Advertises(spec.Name, raw) {
		return spec, raw, mcperr.New(mcperr.KindUnknownTool, "server %q does not advertise tool %q", spec.Name, raw).WithServer(spec.Name).WithTool(raw)
	}
	return spec, raw, nil
}

func toolErrorText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if text, ok := c.(*mcp.TextContent); ok && text.Text != "" {
			parts = append(parts, text.Text)
		}
	}
	if len(parts) == 0 {
		return "tool reported an error"
	}
	return strings.Join(parts, "\n")
}

// DisconnectServer closes the session of one server. The next reference
// reconnects.
func (m *Manager) DisconnectServer(ctx context.Context, name string) error {
	m.mu.Lock()
	st, ok := m.states[name]
	if !ok || st.session == nil {
		m.mu.Unlock()
		return nil
	}
	session := st.session
	st.session = nil
	st.state = StateClosed
	m.index.RemoveServer(name)
	m.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- session.Close() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Shutdown closes every session concurrently and waits for them, or for ctx.
// Connection attempts still in flight are cancelled and awaited as well. The
// manager refuses new connections afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shuttingDown = true
	sessions := make(map[string]*mcp.ClientSession)
	for name, st := range m.states {
		if st.session != nil {
			sessions[name] = st.session
			st.session = nil
		}
		if st.pending == nil {
			st.state = StateClosed
		}
		m.index.RemoveServer(name)
	}
	m.mu.Unlock()
	m.cancelConns()

	var g errgroup.Group
	g.Go(func() error {
		m.connecting.Wait()
		return nil
	})
	for name, session := range sessions {
		g.Go(func() error {
			if err := session.Close(); err != nil {
				m.options.Logger.Warn("close session", "server", name, "error", err)
			}
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		m.options.Logger.Info("manager shut down", "sessions", len(sessions))
		return nil
	}
}

// ServerStates snapshots the state of every server the manager has touched.
func (m *Manager) ServerStates() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(m.states))
	for name, st := range m.states {
		out[name] = st.state
	}
	return out
}

// Servers reports every configured server, sorted by name, without
// connecting anything.
func (m *Manager) Servers(ctx context.Context) ([]ServerStatus, error) {
	cfg, err := m.syncConfig(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ServerStatus, 0, len(cfg.Servers))
	for _, name := range cfg.Names() {
		spec, _ := cfg.Server(name)
		out = append(out, m.status(spec))
	}
	return out, nil
}

// ServerInfo reports one configured server.
func (m *Manager) ServerInfo(ctx context.Context, name string) (ServerStatus, error) {
	cfg, err := m.syncConfig(ctx)
	if err != nil {
		return ServerStatus{}, err
	}
	spec, ok := cfg.Server(name)
	if !ok {
		return ServerStatus{}, unknownServer(name, false)
	}
	return m.status(spec), nil
}

func (m *Manager) status(spec mcpconfig.ServerSpec) ServerStatus {
	s := ServerStatus{
		Name:        spec.Name,
		Transport:   spec.Transport,
		Disabled:    spec.Disabled,
		State:       StateIdle,
		Instruction: spec.Instruction,
		Blacklist:   spec.Blacklist(),
	}
	if spec.Disabled {
		s.State = StateDisabled
		return s
	}
	m.mu.RLock()
	if st, ok := m.states[spec.Name]; ok {
		s.State = st.state
		s.Error = st.lastErr
	}
	m.mu.RUnlock()
	s.Tools = len(m.index.Descriptors(spec.Name))
	return s
}

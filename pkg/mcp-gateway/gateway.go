package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcperr"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcpmgr"
)

const (
	DescribeToolName = "describe_tools"
	UseToolName      = "use_tool"
)

// UseInput is the argument of use_tool.
type UseInput struct {
	ToolName   string         `json:"toolName" jsonschema:"name of the tool as returned by describe_tools"`
	ToolArgs   map[string]any `json:"toolArgs,omitempty" jsonschema:"arguments passed to the tool"`
	ServerName string         `json:"serverName,omitempty" jsonschema:"server that owns the tool; required only when the name is ambiguous"`
}

// Gateway exposes the describe_tools and use_tool meta-tools over MCP and
// routes them to the servers behind an mcpmgr.Manager.
type Gateway struct {
	manager *mcpmgr.Manager
	opts    Options

	server      *mcp.Server
	httpHandler http.Handler

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway. The server list in the describe_tools
// description is read from the current configuration; no server is
// contacted.
func NewGateway(mgr *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpgateway: manager is required")
	}
	options := opts.withDefaults()
	ctx, cancel := context.WithTimeout(context.Background(), options.ShutdownTimeout)
	defer cancel()
	cfg, err := mgr.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcpgateway: load configuration: %w", err)
	}

	g := &Gateway{manager: mgr, opts: options}
	g.server = mcp.NewServer(options.Implementation, nil)
	mcp.AddTool(g.server, &mcp.Tool{
		Name:        DescribeToolName,
		Description: toolCatalog(cfg),
	}, g.handleDescribe)
	mcp.AddTool(g.server, &mcp.Tool{
		Name: UseToolName,
		Description: "Invoke a downstream tool by the name returned from describe_tools. " +
			"Pass serverName to target one server.",
	}, g.handleUse)

	streamHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.httpHandler = g.mountHandler(streamHandler)
	return g, nil
}

// Server exposes the underlying MCP server, for custom transports.
func (g *Gateway) Server() *mcp.Server { return g.server }

func (g *Gateway) handleDescribe(ctx context.Context, _ *mcp.CallToolRequest, in DescribeInput) (*mcp.CallToolResult, any, error) {
	out, err := g.Describe(ctx, in)
	if err != nil {
		return errorResult(mcperr.From(err, mcperr.KindUnknownServer)), nil, nil
	}
	return jsonResult(out), nil, nil
}

func (g *Gateway) handleUse(ctx context.Context, req *mcp.CallToolRequest, in UseInput) (*mcp.CallToolResult, any, error) {
	if req != nil && req.Params != nil && req.Session != nil {
		if token := req.Params.GetProgressToken(); token != nil {
			ctx = mcpmgr.WithProgress(ctx, req.Session, token)
		}
	}
	return g.Use(ctx, in), nil, nil
}

// Use invokes a downstream tool. The downstream result is returned as is on
// success; failures become an isError result whose first content item is the
// JSON error object.
func (g *Gateway) Use(ctx context.Context, in UseInput) *mcp.CallToolResult {
	var args any
	if in.ToolArgs != nil {
		args = in.ToolArgs
	}
	res := g.manager.Invoke(ctx, in.ToolName, args, in.ServerName)
	if res.OK {
		return res.Result
	}
	g.opts.Logger.Debug("use_tool failed", "tool", in.ToolName, "server", in.ServerName, "error", res.Error)
	out := errorResult(res.Error)
	if res.Result != nil {
		out.Content = append(out.Content, res.Result.Content...)
	}
	return out
}

// ListTools is the administrative form of a full listing.
func (g *Gateway) ListTools(ctx context.Context, serverName string) (*mcpmgr.ToolListing, error) {
	return g.manager.ListTools(ctx, serverName)
}

// DescribeTools is the administrative form of describe_tools.
func (g *Gateway) DescribeTools(ctx context.Context, toolNames []string, serverName string) (*DescribeOutput, error) {
	return g.Describe(ctx, DescribeInput{ToolNames: toolNames, ServerName: serverName})
}

// ExecuteTool is the administrative form of use_tool.
func (g *Gateway) ExecuteTool(ctx context.Context, toolName string, args map[string]any, serverName string) *mcpmgr.InvokeResult {
	var a any
	if args != nil {
		a = args
	}
	return g.manager.Invoke(ctx, toolName, a, serverName)
}

type errorEnvelope struct {
	Error *mcperr.Error `json:"error"`
}

func errorResult(e *mcperr.Error) *mcp.CallToolResult {
	payload, err := json.Marshal(errorEnvelope{Error: e})
	if err != nil {
		payload = []byte(e.Error())
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(mcperr.Wrap(mcperr.KindToolFailed, err, "encode result"))
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}}}
}

// ServeStdio serves the gateway on stdin/stdout until ctx is cancelled or
// the client disconnects.
func (g *Gateway) ServeStdio(ctx context.Context) error {
	err := g.server.Run(ctx, &mcp.StdioTransport{})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handler exposes the HTTP handler that serves the Streamable endpoint and
// the administrative routes.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler(), ReadHeaderTimeout: 10 * time.Second}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	g.opts.Logger.Info("gateway listening", "addr", g.opts.Addr, "path", g.opts.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

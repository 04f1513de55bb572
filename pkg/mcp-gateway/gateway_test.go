package mcpgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcpconfig"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcperr"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/telemetry"
)

type echoArgs struct {
	Text string `json:"text,omitempty"`
}

func downstream(name string, tools ...string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: name, Version: "test"}, nil)
	for _, tool := range tools {
		mcp.AddTool(srv, &mcp.Tool{Name: tool, Description: tool + " on " + name},
			func(_ context.Context, _ *mcp.CallToolRequest, in echoArgs) (*mcp.CallToolResult, any, error) {
				return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: name + ":" + tool + ":" + in.Text}}}, nil, nil
			})
	}
	return srv
}

func inMemory(servers map[string]*mcp.Server) mcpmgr.TransportFactory {
	return func(spec mcpconfig.ServerSpec) ([]mcp.Transport, error) {
		srv, ok := servers[spec.Name]
		if !ok {
			return nil, fmt.Errorf("no downstream %q", spec.Name)
		}
		clientT, serverT := mcp.NewInMemoryTransports()
		if _, err := srv.Connect(context.Background(), serverT, nil); err != nil {
			return nil, err
		}
		return []mcp.Transport{clientT}, nil
	}
}

func spec(name string, mutate ...func(*mcpconfig.ServerSpec)) mcpconfig.ServerSpec {
	s := mcpconfig.ServerSpec{Name: name, Transport: mcpconfig.TransportStdio, Command: "run-" + name}
	for _, fn := range mutate {
		fn(&s)
	}
	return s
}

func blacklist(tools ...string) func(*mcpconfig.ServerSpec) {
	return func(s *mcpconfig.ServerSpec) {
		s.ToolBlacklist = make(map[string]struct{})
		for _, t := range tools {
			s.ToolBlacklist[t] = struct{}{}
		}
	}
}

func instruction(text string) func(*mcpconfig.ServerSpec) {
	return func(s *mcpconfig.ServerSpec) { s.Instruction = text }
}

type fixture struct {
	gateway *Gateway
	manager *mcpmgr.Manager
	metrics *telemetry.Metrics
}

func newFixture(t *testing.T, servers map[string]*mcp.Server, specs ...mcpconfig.ServerSpec) *fixture {
	t.Helper()
	cfg := &mcpconfig.Resolved{Servers: make(map[string]mcpconfig.ServerSpec), FetchedAt: time.Now()}
	for _, s := range specs {
		cfg.Servers[s.Name] = s
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := telemetry.New()
	mgr := mcpmgr.NewManager(mcpmgr.Static{Config: cfg}, &mcpmgr.ManagerOptions{
		TransportFactory: inMemory(servers),
		DefaultTimeout:   5 * time.Second,
		Logger:           logger,
		Metrics:          metrics,
	})
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })
	g, err := NewGateway(mgr, &Options{Logger: logger, Metrics: metrics})
	require.NoError(t, err)
	return &fixture{gateway: g, manager: mgr, metrics: metrics}
}

func scenario(t *testing.T) *fixture {
	return newFixture(t,
		map[string]*mcp.Server{
			"fs":     downstream("fs", "read_file", "write_file"),
			"search": downstream("search", "read_file"),
		},
		spec("fs", blacklist("write_file"), instruction("Filesystem access")),
		spec("search"),
	)
}

func connectClient(t *testing.T, g *Gateway) *mcp.ClientSession {
	t.Helper()
	clientT, serverT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	_, err := g.Server().Connect(ctx, serverT, nil)
	require.NoError(t, err)
	client := mcp.NewClient(&mcp.Implementation{Name: "agent", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func firstText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text
}

func toolNamesOf(s ServerDescription) []string {
	var out []string
	for _, tool := range s.Tools {
		out = append(out, tool.Name)
	}
	return out
}

func TestMetaToolsOverMCP(t *testing.T) {
	t.Parallel()

	f := scenario(t)
	session := connectClient(t, f.gateway)
	ctx := context.Background()

	listed, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	require.Len(t, listed.Tools, 2)
	var names []string
	for _, tool := range listed.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{DescribeToolName, UseToolName}, names)
	assert.Empty(t, f.manager.ServerStates(), "listing meta-tools must not connect downstream servers")

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: DescribeToolName, Arguments: map[string]any{}})
	require.NoError(t, err)
	require.False(t, res.IsError, firstText(t, res))
	var out DescribeOutput
	require.NoError(t, json.Unmarshal([]byte(firstText(t, res)), &out))
	require.Len(t, out.Servers, 2)
	assert.Equal(t, "fs", out.Servers[0].Name)
	assert.Equal(t, "Filesystem access", out.Servers[0].Instruction)
	assert.Contains(t, out.Servers[0].Note, "write_file")
	assert.Equal(t, []string{"fs/read_file"}, toolNamesOf(out.Servers[0]))
	assert.Equal(t, []string{"search/read_file"}, toolNamesOf(out.Servers[1]))
	assert.Equal(t, "read_file", out.Servers[1].Tools[0].RawName)
	assert.Equal(t, "read_file on search", out.Servers[1].Tools[0].Description)

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: UseToolName, Arguments: map[string]any{
		"toolName":   "write_file",
		"serverName": "fs",
	}})
	require.NoError(t, err)
	require.True(t, res.IsError)
	var failure struct {
		Error mcperr.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(firstText(t, res)), &failure))
	assert.Equal(t, mcperr.KindToolBlacklisted, failure.Error.Kind)
	assert.Equal(t, "fs", failure.Error.Server)
	assert.Equal(t, "write_file", failure.Error.Tool)

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: UseToolName, Arguments: map[string]any{
		"toolName":   "read_file",
		"serverName": "search",
		"toolArgs":   map[string]any{"text": "q"},
	}})
	require.NoError(t, err)
	require.False(t, res.IsError, firstText(t, res))
	assert.Equal(t, "search:read_file:q", firstText(t, res))
}

func TestDescribeToolsDescriptionListsServersWithoutConnecting(t *testing.T) {
	t.Parallel()

	f := scenario(t)
	session := connectClient(t, f.gateway)

	listed, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var desc string
	for _, tool := range listed.Tools {
		if tool.Name == DescribeToolName {
			desc = tool.Description
		}
	}
	assert.Contains(t, desc, "- fs: Filesystem access")
	assert.Contains(t, desc, "- search")
	assert.Empty(t, f.manager.ServerStates())
}

func TestDescribeFiltersAndNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		map[string]*mcp.Server{
			"fs":    downstream("fs", "read_file", "stat"),
			"quiet": downstream("quiet", "ping"),
		},
		spec("fs"),
		spec("quiet", func(s *mcpconfig.ServerSpec) { s.OmitDescriptions = true }),
	)
	ctx := context.Background()

	out, err := f.gateway.DescribeTools(ctx, []string{"stat", "ping", "nope", "nope"}, "")
	require.NoError(t, err)
	require.Len(t, out.Servers, 2)
	assert.Equal(t, []string{"stat"}, toolNamesOf(out.Servers[0]))
	assert.Equal(t, "stat on fs", out.Servers[0].Tools[0].Description)
	if diff := cmp.Diff(ToolInfo{Name: "ping"}, out.Servers[1].Tools[0]); diff != "" {
		t.Fatalf("omitToolDescription should leave only the name (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"nope"}, out.NotFound)

	out, err = f.gateway.DescribeTools(ctx, nil, "quiet")
	require.NoError(t, err)
	require.Len(t, out.Servers, 1)
	assert.Equal(t, "quiet", out.Servers[0].Name)

	_, err = f.gateway.DescribeTools(ctx, nil, "missing")
	assert.ErrorIs(t, err, mcperr.ErrUnknownServer)
}

func TestDescribeReportsConnectionErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		map[string]*mcp.Server{"ok": downstream("ok", "t")},
		spec("ok"), spec("broken"),
	)
	out, err := f.gateway.Describe(context.Background(), DescribeInput{})
	require.NoError(t, err)
	require.Contains(t, out.Errors, "broken")
	assert.ErrorIs(t, out.Errors["broken"], mcperr.ErrConnectionFailed)
	require.Len(t, out.Servers, 2)
	assert.Empty(t, out.Servers[0].Tools)
	assert.Equal(t, []string{"t"}, toolNamesOf(out.Servers[1]))
}

func TestUseUnknownToolIsStructuredError(t *testing.T) {
	t.Parallel()

	f := scenario(t)
	res := f.gateway.Use(context.Background(), UseInput{ToolName: "does_not_exist"})
	require.True(t, res.IsError)
	text := firstText(t, res)
	assert.Contains(t, text, `"kind":"UnknownTool"`)
	assert.Contains(t, text, `"tool":"does_not_exist"`)
}

func TestHTTPRoutes(t *testing.T) {
	t.Parallel()

	f := scenario(t)
	ts := httptest.NewServer(f.gateway.Handler())
	t.Cleanup(ts.Close)
	client := ts.Client()

	resp, err := client.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = client.Get(ts.URL + "/api/tools?server=search")
	require.NoError(t, err)
	var listing mcpmgr.ToolListing
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	_ = resp.Body.Close()
	require.Len(t, listing.Tools, 1)
	assert.Equal(t, "read_file", listing.Tools[0].ExposedName)

	resp, err = client.Get(ts.URL + "/api/tools?server=missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	body := strings.NewReader(`{"toolName":"read_file","serverName":"search","toolArgs":{"text":"h"}}`)
	resp, err = client.Post(ts.URL+"/api/tools/call", "application/json", body)
	require.NoError(t, err)
	var invoked mcpmgr.InvokeResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&invoked))
	_ = resp.Body.Close()
	assert.True(t, invoked.OK)
	assert.Equal(t, "search", invoked.Server)

	resp, err = client.Post(ts.URL+"/api/tools/call", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Contains(t, string(raw), `mcpgw_tool_invocations_total{outcome="success",server="search"} 1`)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://agent.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStreamableHTTPEndpoint(t *testing.T) {
	t.Parallel()

	f := scenario(t)
	ts := httptest.NewServer(f.gateway.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client := mcp.NewClient(&mcp.Implementation{Name: "agent", Version: "test"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: ts.URL + "/mcp", HTTPClient: ts.Client()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: UseToolName, Arguments: map[string]any{
		"toolName": "fs/read_file",
		"toolArgs": map[string]any{"text": "z"},
	}})
	require.NoError(t, err)
	require.False(t, res.IsError, firstText(t, res))
	assert.Equal(t, "fs:read_file:z", firstText(t, res))
}

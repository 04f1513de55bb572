package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-progressive-gateway/cmd/mcpgw/app"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/configcache"
	mcpgateway "github.com/vikashloomba/mcp-progressive-gateway/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcpconfig"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcperr"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/prefetch"
)

type result struct {
	stdout string
	stderr string
	err    error
}

func execute(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	cmd := app.NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--env-file", "", "--cache-dir", t.TempDir()}, args...))
	err := cmd.ExecuteContext(context.Background())
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcp-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

type lookupArgs struct {
	Query string `json:"query"`
}

// searchServer serves one MCP server with a lookup tool over Streamable HTTP.
func searchServer(t *testing.T) string {
	t.Helper()
	srv := mcp.NewServer(&mcp.Implementation{Name: "search", Version: "v0.0.1"}, nil)
	mcp.AddTool(srv, &mcp.Tool{Name: "lookup", Description: "Look up a query"},
		func(_ context.Context, _ *mcp.CallToolRequest, in lookupArgs) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "result:" + in.Query}}}, nil, nil
		})
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts.URL
}

func searchConfig(t *testing.T) string {
	return writeConfig(t, `mcpServers:
  search:
    url: `+searchServer(t)+`
    type: http
    config:
      instruction: Web search
      toolBlacklist: [drop]
`)
}

func TestInitWritesStarterConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gw.json")
	res := execute(t, "", "--config", path, "init")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data), "starter config should be JSON for a .json path")

	res = execute(t, "", "--config", path, "init")
	require.ErrorIs(t, res.err, mcpconfig.ErrExists)

	res = execute(t, "", "--config", path, "init", "--force")
	require.NoError(t, res.err)
}

func TestConfigPathFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "from-env.yaml")
	t.Setenv("MCPGW_CONFIG", path)

	res := execute(t, "", "init")
	require.NoError(t, res.err)
	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestInvalidMergeStrategy(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "mcpServers: {}\n")
	res := execute(t, "", "--config", path, "--merge-strategy", "newest-wins", "servers")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "newest-wins")
}

func TestMissingConfigFails(t *testing.T) {
	t.Parallel()

	res := execute(t, "", "--config", filepath.Join(t.TempDir(), "absent.yaml"), "list-tools")
	require.ErrorIs(t, res.err, mcperr.ErrConfigNotFound)
}

func TestServersAndListTools(t *testing.T) {
	t.Parallel()

	path := searchConfig(t)

	res := execute(t, "", "--config", path, "--json", "servers")
	require.NoError(t, res.err)
	var servers []mcpmgr.ServerStatus
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &servers))
	require.Len(t, servers, 1)
	assert.Equal(t, "search", servers[0].Name)
	assert.Equal(t, []string{"drop"}, servers[0].Blacklist)

	res = execute(t, "", "--config", path, "--json", "list-tools")
	require.NoError(t, res.err)
	var listing mcpmgr.ToolListing
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &listing))
	require.Len(t, listing.Tools, 1)
	assert.Equal(t, "lookup", listing.Tools[0].ExposedName)
	assert.Equal(t, "search", listing.Tools[0].ServerName)
	assert.Empty(t, listing.Errors)

	res = execute(t, "", "--config", path, "list-tools")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "lookup")
	assert.Contains(t, res.stdout, "Look up a query")

	res = execute(t, "", "--config", path, "list-tools", "--server", "nope")
	require.ErrorIs(t, res.err, mcperr.ErrUnknownServer)
}

func TestDescribeTools(t *testing.T) {
	t.Parallel()

	res := execute(t, "", "--config", searchConfig(t), "describe-tools", "lookup", "missing")
	require.NoError(t, res.err)

	var out mcpgateway.DescribeOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	require.Len(t, out.Servers, 1)
	assert.Equal(t, "search", out.Servers[0].Name)
	assert.Equal(t, "Web search", out.Servers[0].Instruction)
	assert.Equal(t, "not available on this server: drop", out.Servers[0].Note)
	require.Len(t, out.Servers[0].Tools, 1)
	assert.Equal(t, "lookup", out.Servers[0].Tools[0].Name)
	assert.NotNil(t, out.Servers[0].Tools[0].InputSchema)
	assert.Equal(t, []string{"missing"}, out.NotFound)
}

func TestUseTool(t *testing.T) {
	t.Parallel()

	path := searchConfig(t)

	res := execute(t, "", "--config", path, "use-tool", "lookup", "--args", `{"query":"go"}`)
	require.NoError(t, res.err)
	assert.Equal(t, "result:go\n", res.stdout)

	res = execute(t, "", "--config", path, "--json", "use-tool", "search/lookup", "--args", `{"query":"sdk"}`)
	require.NoError(t, res.err)
	var invoke struct {
		OK     bool   `json:"ok"`
		Server string `json:"server"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &invoke))
	assert.True(t, invoke.OK)
	assert.Equal(t, "search", invoke.Server)

	res = execute(t, "", "--config", path, "use-tool", "lookpu")
	require.ErrorIs(t, res.err, mcperr.ErrUnknownTool)

	res = execute(t, "", "--config", path, "use-tool", "drop", "--server", "search")
	require.ErrorIs(t, res.err, mcperr.ErrToolBlacklisted)

	res = execute(t, "", "--config", path, "use-tool", "lookup", "--args", `[1,2]`)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "--args")
}

func TestHookDeniesBlacklistedTool(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `mcpServers:
  fs:
    command: npx
    args: ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
    config:
      toolBlacklist: [write_file]
`)
	event := `{"hook_event_name":"PreToolUse","tool_name":"mcp__mcpgw__use_tool",` +
		`"tool_input":{"toolName":"write_file","serverName":"fs"}}`

	res := execute(t, event, "--config", path, "hook", "--agent", "claude-code")
	require.NoError(t, res.err)
	var claude struct {
		HookSpecificOutput struct {
			PermissionDecision string `json:"permissionDecision"`
		} `json:"hookSpecificOutput"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &claude))
	assert.Equal(t, "deny", claude.HookSpecificOutput.PermissionDecision)

	res = execute(t, event, "--config", path, "hook", "--agent", "gemini-cli")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, `"decision":"deny"`)

	allowed := strings.Replace(event, "write_file", "read_file", 1)
	res = execute(t, allowed, "--config", path, "hook", "--agent", "gemini-cli")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, `"decision":"allow"`)

	res = execute(t, event, "--config", path, "hook", "--agent", "vim")
	require.Error(t, res.err)
}

func TestPrefetchDryRun(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `mcpServers:
  fs:
    command: npx
    args: ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
  fetch:
    command: uvx
    args: ["mcp-server-fetch"]
`)
	res := execute(t, "", "--config", path, "--json", "prefetch", "--dry-run")
	require.NoError(t, res.err)

	var summary prefetch.Summary
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &summary))
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	var packages []string
	for _, r := range summary.Results {
		assert.True(t, r.Skipped)
		packages = append(packages, r.Ref.Package)
	}
	assert.ElementsMatch(t, []string{"@modelcontextprotocol/server-filesystem", "mcp-server-fetch"}, packages)

	res = execute(t, "", "--config", path, "prefetch", "--dry-run", "--parallel")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "2 succeeded, 0 failed")
}

func TestCacheCommands(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cache := configcache.New(configcache.Options{Dir: dir})
	require.NoError(t, cache.Init())
	require.NoError(t, cache.Set("https://config.example.com/a.json", []byte(`{"mcpServers":{}}`)))
	require.NoError(t, cache.Set("https://config.example.com/b.json", []byte(`{"mcpServers":{}}`)))

	stats := func() configcache.Stats {
		t.Helper()
		res := execute(t, "", "--cache-dir", dir, "--json", "cache", "stats")
		require.NoError(t, res.err)
		var got configcache.Stats
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &got))
		return got
	}
	assert.Equal(t, 2, stats().Count)

	res := execute(t, "", "--cache-dir", dir, "cache", "clean")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Removed 0 expired entries")

	res = execute(t, "", "--cache-dir", dir, "cache", "clear", "https://config.example.com/a.json")
	require.NoError(t, res.err)
	assert.Equal(t, 1, stats().Count)

	res = execute(t, "", "--cache-dir", dir, "cache", "clear")
	require.NoError(t, res.err)
	if diff := cmp.Diff(configcache.Stats{}, stats()); diff != "" {
		t.Errorf("stats after clear (-want +got):\n%s", diff)
	}
}

package mcpconfig

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/configcache"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcperr"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func noEnv(string) (string, bool) { return "", false }

func mapEnv(vars map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

const localYAML = `
mcpServers:
  fs:
    command: npx
    args: ["-y", "@modelcontextprotocol/server-filesystem"]
    env:
      A: local
      B: local
    disabled: false
    config:
      toolBlacklist: [write_file]
      omitToolDescription: false
  mine:
    url: https://mine.example.com/mcp
`

const remoteJSON = `{
  "mcpServers": {
    "fs": {
      "command": "npx",
      "args": ["-y", "remote-fs"],
      "env": {"B": "remote", "C": "remote"},
      "disabled": true,
      "config": {"instruction": "remote instruction", "omitToolDescription": true}
    },
    "extra": {"url": "https://extra.example.com/sse"}
  }
}`

func serveRemote(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if got := r.Header.Get("Authorization"); got != "" && got != "Bearer t0k3n" {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestResolveLocalYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "mcp.yaml", localYAML)
	store := NewStore(Options{Path: path, LookupEnv: noEnv})
	cfg, err := store.Resolve(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"fs", "mine"}, cfg.Names())
	fs := cfg.Servers["fs"]
	assert.Equal(t, TransportStdio, fs.Transport)
	assert.True(t, fs.IsBlacklisted("write_file"))
	assert.False(t, fs.IsBlacklisted("read_file"))
	assert.Equal(t, TransportHTTP, cfg.Servers["mine"].Transport)
	assert.Equal(t, []string{path}, cfg.Sources)
}

func TestResolveMemoTTL(t *testing.T) {
	t.Parallel()

	t.Run("expired memo reloads", func(t *testing.T) {
		t.Parallel()
		store := NewStore(Options{Path: writeConfig(t, "mcp.yaml", localYAML), TTL: 100 * time.Millisecond, LookupEnv: noEnv})
		first, err := store.Resolve(context.Background(), false)
		require.NoError(t, err)
		time.Sleep(150 * time.Millisecond)
		second, err := store.Resolve(context.Background(), false)
		require.NoError(t, err)
		assert.NotEqual(t, first.FetchedAt, second.FetchedAt)
	})

	t.Run("fresh memo is shared", func(t *testing.T) {
		t.Parallel()
		store := NewStore(Options{Path: writeConfig(t, "mcp.yaml", localYAML), TTL: 5000 * time.Millisecond, LookupEnv: noEnv})
		first, err := store.Resolve(context.Background(), false)
		require.NoError(t, err)
		second, err := store.Resolve(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, first.FetchedAt, second.FetchedAt)
		assert.Same(t, first, second)
	})

	t.Run("force reload bypasses memo", func(t *testing.T) {
		t.Parallel()
		now := time.Unix(1_700_000_000, 0)
		var mu sync.Mutex
		clock := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(time.Millisecond)
			return now
		}
		store := NewStore(Options{Path: writeConfig(t, "mcp.yaml", localYAML), TTL: time.Hour, LookupEnv: noEnv, Now: clock})
		first, err := store.Resolve(context.Background(), false)
		require.NoError(t, err)
		second, err := store.Resolve(context.Background(), true)
		require.NoError(t, err)
		assert.NotEqual(t, first.FetchedAt, second.FetchedAt)

		store.Invalidate()
		third, err := store.Resolve(context.Background(), false)
		require.NoError(t, err)
		assert.NotSame(t, second, third)
	})
}

func TestResolveConcurrentCallersShareOneLoad(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		time.Sleep(100 * time.Millisecond)
		fmt.Fprint(w, remoteJSON)
	}))
	t.Cleanup(srv.Close)

	store := NewStore(Options{
		Path:      filepath.Join(t.TempDir(), "absent.yaml"),
		RemoteURL: srv.URL + "/mcp.json",
		LookupEnv: noEnv,
	})

	var wg sync.WaitGroup
	results := make([]*Resolved, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := store.Resolve(context.Background(), false)
			assert.NoError(t, err)
			results[i] = r
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, r := range results[1:] {
		assert.Same(t, results[0], r)
	}
}

func TestResolveMergeStrategies(t *testing.T) {
	t.Parallel()

	srv, _ := serveRemote(t, http.StatusOK, remoteJSON)

	cases := []struct {
		strategy        MergeStrategy
		wantEnv         map[string]string
		wantArgs        []string
		wantInstruction string
		wantDisabled    bool
	}{
		{
			strategy: MergeLocalPriority,
			wantEnv:  map[string]string{"A": "local", "B": "local"},
			wantArgs: []string{"-y", "@modelcontextprotocol/server-filesystem"},
		},
		{
			strategy:        MergeRemotePriority,
			wantEnv:         map[string]string{"B": "remote", "C": "remote"},
			wantArgs:        []string{"-y", "remote-fs"},
			wantInstruction: "remote instruction",
			wantDisabled:    true,
		},
		{
			strategy:        MergeDeep,
			wantEnv:         map[string]string{"A": "local", "B": "local", "C": "remote"},
			wantArgs:        []string{"-y", "@modelcontextprotocol/server-filesystem"},
			wantInstruction: "remote instruction",
		},
	}
	for _, tc := range cases {
		t.Run(string(tc.strategy), func(t *testing.T) {
			t.Parallel()
			store := NewStore(Options{
				Path:          writeConfig(t, "mcp.yaml", localYAML),
				RemoteURL:     srv.URL + "/shared.json",
				MergeStrategy: tc.strategy,
				LookupEnv:     noEnv,
			})
			cfg, err := store.Resolve(context.Background(), false)
			require.NoError(t, err)

			assert.Equal(t, []string{"extra", "fs", "mine"}, cfg.Names())
			fs := cfg.Servers["fs"]
			if diff := cmp.Diff(tc.wantEnv, fs.Env); diff != "" {
				t.Fatalf("env mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tc.wantArgs, fs.Args)
			assert.Equal(t, tc.wantInstruction, fs.Instruction)
			assert.Equal(t, tc.wantDisabled, fs.Disabled, "disabled")
			assert.Equal(t, tc.wantDisabled, fs.OmitDescriptions, "omitToolDescription")
			assert.Equal(t, TransportSSE, cfg.Servers["extra"].Transport)
			assert.Len(t, cfg.Sources, 2)
		})
	}
}

func TestResolveRemoteFailureKeepsLocal(t *testing.T) {
	t.Parallel()

	srv, hits := serveRemote(t, http.StatusInternalServerError, "boom")
	path := writeConfig(t, "mcp.yaml", localYAML)
	store := NewStore(Options{
		Path:          path,
		RemoteURL:     srv.URL + "/mcp.json",
		FetchAttempts: 2,
		RetryInterval: time.Millisecond,
		LookupEnv:     noEnv,
	})
	cfg, err := store.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"fs", "mine"}, cfg.Names())
	assert.Equal(t, []string{path}, cfg.Sources)
	assert.Equal(t, int32(2), hits.Load())
}

func TestResolveRemoteOnlyFailureIsFatal(t *testing.T) {
	t.Parallel()

	srv, _ := serveRemote(t, http.StatusNotFound, "")
	store := NewStore(Options{
		Path:      filepath.Join(t.TempDir(), "absent.json"),
		RemoteURL: srv.URL + "/mcp.json",
		LookupEnv: noEnv,
	})
	_, err := store.Resolve(context.Background(), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcperr.ErrConfigNotFound))
}

func TestResolveRemoteUsesCacheAndHeaders(t *testing.T) {
	t.Parallel()

	srv, hits := serveRemote(t, http.StatusOK, remoteJSON)
	cache := configcache.New(configcache.Options{Dir: t.TempDir(), TTL: time.Hour})
	path := writeConfig(t, "mcp.yaml", `
mcpServers: {}
remoteConfigs:
  - url: `+srv.URL+`/mcp.json
    headers:
      Authorization: "Bearer ${CONFIG_TOKEN}"
`)
	store := NewStore(Options{
		Path:      path,
		Cache:     cache,
		LookupEnv: mapEnv(map[string]string{"CONFIG_TOKEN": "t0k3n"}),
	})

	cfg, err := store.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"extra", "fs"}, cfg.Names())

	_, err = store.Resolve(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second resolution should be served from the disk cache")

	cached, ok := cache.Get(srv.URL + "/mcp.json")
	require.True(t, ok)
	assert.NotContains(t, string(cached), "t0k3n")
}

func TestResolveEnvSubstitution(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("FROM_FILE=file-value\nSHADOWED=file\n"), 0o600))
	path := writeConfig(t, "mcp.json", `{
  // comments and trailing commas are accepted
  "mcpServers": {
    "stdio": {
      "command": "${BIN_DIR}/server",
      "args": ["--root", "${HOME_DIR}", "${MISSING}"],
      "env": {"SHADOWED": "${SHADOWED}", "OVERLAY": "${FROM_FILE}", "PORT": "8080"},
    },
    "remote": {
      "url": "https://${HOST}/mcp",
      "headers": {"Authorization": "Bearer ${TOKEN}"},
    },
  },
}`)
	store := NewStore(Options{
		Path:    path,
		EnvFile: envFile,
		LookupEnv: mapEnv(map[string]string{
			"BIN_DIR":  "/opt/bin",
			"HOME_DIR": "/home/dev",
			"SHADOWED": "process",
			"HOST":     "search.example.com",
			"TOKEN":    "abc",
		}),
	})
	cfg, err := store.Resolve(context.Background(), false)
	require.NoError(t, err)

	stdio := cfg.Servers["stdio"]
	assert.Equal(t, "/opt/bin/server", stdio.Command)
	assert.Equal(t, []string{"--root", "/home/dev", "${MISSING}"}, stdio.Args)
	assert.Equal(t, map[string]string{"SHADOWED": "process", "OVERLAY": "file-value", "PORT": "8080"}, stdio.Env)

	remote := cfg.Servers["remote"]
	assert.Equal(t, "https://search.example.com/mcp", remote.URL)
	assert.Equal(t, "Bearer abc", remote.Headers["Authorization"])
}

func TestResolveErrorKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		file    string
		content string
		want    error
	}{
		{name: "missing file", want: mcperr.ErrConfigNotFound},
		{name: "unparseable", file: "mcp.json", content: "{{{ not: [valid", want: mcperr.ErrConfigParse},
		{name: "no server map", file: "mcp.json", content: `{"servers": {}}`, want: mcperr.ErrConfigSchema},
		{name: "server map not an object", file: "mcp.yaml", content: "mcpServers: [a, b]", want: mcperr.ErrConfigSchema},
		{name: "command and url", file: "mcp.json", content: `{"mcpServers": {"x": {"command": "a", "url": "http://b"}}}`, want: mcperr.ErrConfigSchema},
		{name: "neither command nor url", file: "mcp.json", content: `{"mcpServers": {"x": {"args": ["a"]}}}`, want: mcperr.ErrConfigSchema},
		{name: "bad blacklist type", file: "mcp.yaml", content: "mcpServers:\n  x:\n    command: a\n    config:\n      toolBlacklist: nope\n", want: mcperr.ErrConfigSchema},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "absent.yaml")
			if tc.file != "" {
				path = writeConfig(t, tc.file, tc.content)
			}
			_, err := NewStore(Options{Path: path, LookupEnv: noEnv}).Resolve(context.Background(), false)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestYAMLNumericEnvValues(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "mcp.yml", "mcpServers:\n  x:\n    command: srv\n    timeout: 1500\n    env:\n      PORT: 8080\n      DEBUG: true\n")
	cfg, err := NewStore(Options{Path: path, LookupEnv: noEnv}).Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"PORT": "8080", "DEBUG": "true"}, cfg.Servers["x"].Env)
	assert.Equal(t, 1500*time.Millisecond, cfg.Servers["x"].Timeout)
}

func TestWriteDefault(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"mcp-config.yaml", "nested/mcp.json"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, WriteDefault(path, false))
			assert.ErrorIs(t, WriteDefault(path, false), ErrExists)
			require.NoError(t, WriteDefault(path, true))

			cfg, err := NewStore(Options{Path: path, LookupEnv: mapEnv(map[string]string{"HOME": "/home/dev"})}).Resolve(context.Background(), false)
			require.NoError(t, err)
			assert.Equal(t, []string{"fetch", "filesystem"}, cfg.Names())
			assert.Equal(t, []string{"filesystem"}, cfg.Enabled())
			assert.Contains(t, cfg.Servers["filesystem"].Args, "/home/dev")
			assert.True(t, cfg.Servers["fetch"].OmitDescriptions)
		})
	}
}

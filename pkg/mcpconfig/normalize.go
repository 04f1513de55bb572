package mcpconfig

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcperr"
)

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LookupFunc resolves a variable name.
type LookupFunc func(name string) (string, bool)

// Expand replaces ${NAME} placeholders using lookup. Unresolved placeholders
// are left verbatim.
func Expand(s string, lookup LookupFunc) string {
	if lookup == nil || !strings.Contains(s, "${") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := lookup(name); ok {
			return v
		}
		return m
	})
}

// envLookup consults the process environment first and the overlay second,
// mirroring godotenv.Load, which never overrides variables already set.
func envLookup(processEnv LookupFunc, overlay map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		if processEnv != nil {
			if v, ok := processEnv(name); ok {
				return v, true
			}
		}
		v, ok := overlay[name]
		return v, ok
	}
}

// readOverlay loads a .env file. A missing file yields an empty overlay.
func readOverlay(path string, logger *slog.Logger) map[string]string {
	if path == "" {
		return nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("ignoring unreadable env file", "path", path, "error", err)
		}
		return nil
	}
	return vars
}

func expandMap(m map[string]string, lookup LookupFunc) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Expand(v, lookup)
	}
	return out
}

func deref(b *bool) bool { return b != nil && *b }

// normalizeServer turns a raw entry into a ServerSpec, substituting
// placeholders and choosing the transport.
func normalizeServer(name string, raw rawServer, lookup LookupFunc) (ServerSpec, error) {
	spec := ServerSpec{
		Name:             name,
		Disabled:         deref(raw.Disabled),
		Timeout:          time.Duration(raw.Timeout),
		Instruction:      raw.Config.Instruction,
		OmitDescriptions: deref(raw.Config.OmitToolDescription),
	}
	if len(raw.Config.ToolBlacklist) > 0 {
		spec.ToolBlacklist = make(map[string]struct{}, len(raw.Config.ToolBlacklist))
		for _, tool := range raw.Config.ToolBlacklist {
			spec.ToolBlacklist[tool] = struct{}{}
		}
	}

	switch {
	case raw.Command != "" && raw.URL != "":
		return ServerSpec{}, mcperr.New(mcperr.KindConfigSchema, "server %q sets both command and url", name).WithServer(name)
	case raw.Command != "":
		if raw.Type != "" && raw.Type != string(TransportStdio) {
			return ServerSpec{}, mcperr.New(mcperr.KindConfigSchema, "server %q has command but type %q", name, raw.Type).WithServer(name)
		}
		spec.Transport = TransportStdio
		spec.Command = Expand(raw.Command, lookup)
		if len(raw.Args) > 0 {
			spec.Args = make([]string, len(raw.Args))
			for i, a := range raw.Args {
				spec.Args[i] = Expand(a, lookup)
			}
		}
		spec.Env = expandMap(raw.Env, lookup)
	case raw.URL != "":
		spec.URL = Expand(raw.URL, lookup)
		transport, err := remoteTransport(raw.Type, spec.URL)
		if err != nil {
			return ServerSpec{}, mcperr.Wrap(mcperr.KindConfigSchema, err, "server %q", name).WithServer(name)
		}
		spec.Transport = transport
		spec.Headers = expandMap(raw.Headers, lookup)
	default:
		return ServerSpec{}, mcperr.New(mcperr.KindConfigSchema, "server %q needs command or url", name).WithServer(name)
	}
	return spec, nil
}

func remoteTransport(declared, rawURL string) (Transport, error) {
	switch declared {
	case "sse":
		return TransportSSE, nil
	case "http", "streamable-http", "streamableHttp":
		return TransportHTTP, nil
	case "":
		if u, err := url.Parse(rawURL); err == nil && strings.HasSuffix(strings.TrimSuffix(u.Path, "/"), "/sse") {
			return TransportSSE, nil
		}
		return TransportHTTP, nil
	default:
		return "", errors.New("type " + declared + " is not valid for a url server")
	}
}

// defaultLookup is the process environment.
func defaultLookup(name string) (string, bool) { return os.LookupEnv(name) }

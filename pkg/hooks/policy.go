package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcpconfig"
)

// useToolName is the gateway meta-tool the policy inspects. Agents prefix MCP
// tool names with the server alias, so only the suffix is compared.
const useToolName = "use_tool"

// ConfigSource supplies the configuration the policy checks against.
type ConfigSource interface {
	Resolve(ctx context.Context, forceReload bool) (*mcpconfig.Resolved, error)
}

// Evaluate denies use_tool calls that target a blacklisted tool. Calls to
// other tools are always allowed.
func Evaluate(cfg *mcpconfig.Resolved, call *Call) Decision {
	if call == nil || !strings.HasSuffix(call.ToolName, useToolName) {
		return Decision{Allow: true}
	}
	tool, _ := call.ToolInput["toolName"].(string)
	server, _ := call.ToolInput["serverName"].(string)
	if tool == "" {
		return Decision{Allow: true}
	}
	if server == "" {
		if s, t, ok := strings.Cut(tool, "/"); ok && s != "" && t != "" {
			if _, known := cfg.Server(s); known {
				server, tool = s, t
			}
		}
	} else if s, t, ok := strings.Cut(tool, "/"); ok && s == server {
		tool = t
	}

	if server != "" {
		spec, ok := cfg.Server(server)
		if ok && spec.IsBlacklisted(tool) {
			return deny(server, tool)
		}
		return Decision{Allow: true}
	}
	for _, name := range cfg.Enabled() {
		if spec, _ := cfg.Server(name); spec.IsBlacklisted(tool) {
			return deny(name, tool)
		}
	}
	return Decision{Allow: true}
}

func deny(server, tool string) Decision {
	return Decision{Reason: fmt.Sprintf("tool %q is blacklisted on server %q by the gateway configuration", tool, server)}
}

// Run answers one hook event for agent: it reads the event from in and
// writes the decision to out. A configuration that cannot be loaded allows
// the call, since the gateway itself still enforces the blacklist.
func Run(ctx context.Context, agent string, source ConfigSource, in io.Reader, out io.Writer, logger *slog.Logger) (Decision, error) {
	if logger == nil {
		logger = slog.Default()
	}
	adapter, err := Lookup(agent)
	if err != nil {
		return Decision{}, err
	}
	call, err := adapter.Decode(in)
	if err != nil {
		return Decision{}, err
	}
	decision := Decision{Allow: true}
	cfg, err := source.Resolve(ctx, false)
	if err != nil {
		logger.Warn("hook: configuration unavailable; allowing call", "error", err)
	} else {
		decision = Evaluate(cfg, call)
	}
	if !decision.Allow {
		logger.Info("hook: denied tool call", "agent", agent, "reason", decision.Reason)
	}
	return decision, adapter.Encode(out, call, decision)
}

package mcpmgr

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcpconfig"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/telemetry"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction  RPCDirection
	Message    []byte
	ServerName string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// ConfigSource supplies the current server configuration. *mcpconfig.Store
// implements it; Static wraps a fixed configuration.
type ConfigSource interface {
	Resolve(ctx context.Context, forceReload bool) (*mcpconfig.Resolved, error)
}

// Static is a ConfigSource that always returns the same configuration.
type Static struct{ Config *mcpconfig.Resolved }

func (s Static) Resolve(context.Context, bool) (*mcpconfig.Resolved, error) { return s.Config, nil }

// TransportFactory returns the transports to try, in order, for a server. The
// first one that completes the handshake wins.
type TransportFactory func(spec mcpconfig.ServerSpec) ([]mcp.Transport, error)

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// ClientName is advertised to downstream servers. Defaults to "mcpgw".
	ClientName    string
	ClientVersion string
	// DefaultTimeout bounds connection and invocation when a server has no
	// timeout of its own. Defaults to 30s.
	DefaultTimeout time.Duration
	// KeepAlive, when positive, pings every session at this interval.
	KeepAlive time.Duration
	// LogJSONRPC logs all JSON-RPC traffic at debug level through Logger.
	LogJSONRPC bool
	// RPCLogger takes precedence over LogJSONRPC.
	RPCLogger RPCLogger
	// HTTPClient is the base client for http and sse servers.
	HTTPClient *http.Client
	// TransportFactory overrides transport construction, mostly for tests.
	TransportFactory TransportFactory
	// Namespace derives exposed names for colliding tools. Defaults to
	// ServerPrefixNamespace{Separator: "/"}.
	Namespace NamespaceStrategy
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
}

func (o *ManagerOptions) normalized() ManagerOptions {
	var opts ManagerOptions
	if o != nil {
		opts = *o
	}
	if opts.ClientName == "" {
		opts.ClientName = "mcpgw"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.Namespace == nil {
		opts.Namespace = ServerPrefixNamespace{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

package mcpmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcpconfig"
)

const defaultHTTPMaxRetries = 3

// DefaultTransports builds the transports for spec using base as the HTTP
// client. http servers try Streamable HTTP first and fall back to SSE.
func DefaultTransports(base *http.Client) TransportFactory {
	return func(spec mcpconfig.ServerSpec) ([]mcp.Transport, error) {
		switch spec.Transport {
		case mcpconfig.TransportStdio:
			t, err := stdioTransport(spec)
			if err != nil {
				return nil, err
			}
			return []mcp.Transport{t}, nil
		case mcpconfig.TransportHTTP, mcpconfig.TransportSSE:
			if spec.URL == "" {
				return nil, fmt.Errorf("mcpmgr: url missing for %q", spec.Name)
			}
			client := decorateHTTPClient(base, spec.Headers)
			sse := &mcp.SSEClientTransport{Endpoint: spec.URL, HTTPClient: client}
			if spec.Transport == mcpconfig.TransportSSE {
				return []mcp.Transport{sse}, nil
			}
			return []mcp.Transport{
				&mcp.StreamableClientTransport{Endpoint: spec.URL, HTTPClient: client, MaxRetries: defaultHTTPMaxRetries},
				sse,
			}, nil
		default:
			return nil, fmt.Errorf("mcpmgr: unsupported transport %q for %q", spec.Transport, spec.Name)
		}
	}
}

func stdioTransport(spec mcpconfig.ServerSpec) (mcp.Transport, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("mcpmgr: command missing for %q", spec.Name)
	}
	cmd := exec.Command(spec.Command, spec.Args...)
	if len(spec.Env) > 0 {
		env := os.Environ()
		keys := make([]string, 0, len(spec.Env))
		for k := range spec.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, fmt.Sprintf("%s=%s", k, spec.Env[k]))
		}
		cmd.Env = env
	}
	// Downstream diagnostics share the gateway's stderr; stdout is the wire.
	cmd.Stderr = os.Stderr
	return &mcp.CommandTransport{Command: cmd}, nil
}

func decorateHTTPClient(base *http.Client, headers map[string]string) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	clone := *base
	hdr := make(http.Header, len(headers))
	for k, v := range headers {
		hdr.Set(k, v)
	}
	clone.Transport = &headerDecorator{
		next:    defaultRoundTripper(base.Transport),
		headers: hdr,
	}
	return &clone
}

// headerDecorator stamps configured headers onto every outgoing request,
// replacing any value the transport set for the same key.
type headerDecorator struct {
	next    http.RoundTripper
	headers http.Header
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(d.headers) == 0 {
		return d.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	for k, values := range d.headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	return d.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}

// slogRPCLogger writes JSON-RPC traffic to logger at debug level.
func slogRPCLogger(logger *slog.Logger) RPCLogger {
	return func(ev RPCLogEvent) {
		logger.Debug("jsonrpc", "server", ev.ServerName, "direction", string(ev.Direction), "message", string(ev.Message))
	}
}

type loggingTransport struct {
	serverName string
	delegate   mcp.Transport
	logger     RPCLogger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConnection{serverName: t.serverName, delegate: conn, logger: t.logger}, nil
}

type loggingConnection struct {
	serverName string
	delegate   mcp.Connection
	logger     RPCLogger
	mu         sync.Mutex
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(RPCDirectionSend, msg)
	return nil
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(direction RPCDirection, msg jsonrpc.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger(RPCLogEvent{Direction: direction, Message: encoded, ServerName: c.serverName})
}

// isMethodUnavailableError reports whether err says the server does not
// implement method at all.
func isMethodUnavailableError(err error, method string) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	if !(strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "unimplemented")) {
		return false
	}
	return strings.Contains(lower, strings.ToLower(method)) || strings.Contains(lower, "method not found")
}

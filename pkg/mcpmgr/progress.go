package mcpmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ProgressSink receives progress notifications for an in-flight invocation.
// *mcp.ServerSession satisfies it.
type ProgressSink interface {
	NotifyProgress(context.Context, *mcp.ProgressNotificationParams) error
}

type progressKey struct{}

type progressBinding struct {
	sink  ProgressSink
	token any
}

// WithProgress asks Invoke to forward downstream progress for token to sink.
// The token is passed to the downstream server unchanged, so notifications
// can be relayed as they arrive.
func WithProgress(ctx context.Context, sink ProgressSink, token any) context.Context {
	if sink == nil || token == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, progressBinding{sink: sink, token: token})
}

func progressFrom(ctx context.Context) (progressBinding, bool) {
	b, ok := ctx.Value(progressKey{}).(progressBinding)
	return b, ok
}

// progressTracker maps (server, token) pairs to sinks. Registrations linger
// briefly after the call returns because servers may send a final
// notification after the response.
type progressTracker struct {
	seq atomic.Uint64

	mu       sync.RWMutex
	sessions map[string]progressRegistration

	logger       *slog.Logger
	cleanupGrace time.Duration
}

type progressRegistration struct {
	sink ProgressSink
	seq  uint64
}

const progressCleanupGrace = 250 * time.Millisecond

func newProgressTracker(logger *slog.Logger) *progressTracker {
	return &progressTracker{
		sessions:     make(map[string]progressRegistration),
		logger:       logger,
		cleanupGrace: progressCleanupGrace,
	}
}

// track stamps params with the binding's token and registers the sink. The
// returned func releases the registration.
func (pt *progressTracker) track(serverName string, b progressBinding, params *mcp.CallToolParams) func() {
	token, ok := normalizeProgressToken(b.token)
	if !ok {
		pt.logger.Warn("progress token unsupported", "server", serverName, "token", b.token)
		return func() {}
	}
	if params.GetMeta() == nil {
		params.SetMeta(map[string]any{})
	}
	params.SetProgressToken(token)
	return pt.register(serverName, token, b.sink)
}

func (pt *progressTracker) register(serverName string, token any, sink ProgressSink) func() {
	key, ok := progressMapKey(serverName, token)
	if !ok {
		return func() {}
	}
	seq := pt.seq.Add(1)
	pt.mu.Lock()
	pt.sessions[key] = progressRegistration{sink: sink, seq: seq}
	pt.mu.Unlock()
	return func() {
		time.AfterFunc(pt.cleanupGrace, func() { pt.removeIfMatch(key, seq) })
	}
}

func (pt *progressTracker) removeIfMatch(key string, seq uint64) {
	pt.mu.Lock()
	if current, ok := pt.sessions[key]; ok && current.seq == seq {
		delete(pt.sessions, key)
	}
	pt.mu.Unlock()
}

func (pt *progressTracker) lookup(serverName string, token any) ProgressSink {
	normalized, ok := normalizeProgressToken(token)
	if !ok {
		return nil
	}
	key, ok := progressMapKey(serverName, normalized)
	if !ok {
		return nil
	}
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.sessions[key].sink
}

// dispatch relays a downstream notification to the registered sink, if any.
func (pt *progressTracker) dispatch(ctx context.Context, serverName string, params *mcp.ProgressNotificationParams) {
	if params == nil {
		return
	}
	sink := pt.lookup(serverName, params.ProgressToken)
	if sink == nil {
		return
	}
	if err := sink.NotifyProgress(ctx, params); err != nil {
		pt.logger.Debug("forward progress failed", "server", serverName, "error", err)
	}
}

func progressMapKey(serverName string, token any) (string, bool) {
	switch v := token.(type) {
	case string:
		return serverName + "|s|" + v, true
	case int64:
		return fmt.Sprintf("%s|i|%d", serverName, v), true
	default:
		return "", false
	}
}

// normalizeProgressToken maps the JSON number forms a token can take after a
// round trip onto int64 so lookups match.
func normalizeProgressToken(token any) (any, bool) {
	switch v := token.(type) {
	case nil:
		return nil, false
	case string:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		if math.Trunc(v) == v {
			return int64(v), true
		}
		return fmt.Sprintf("%g", v), true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		return v.String(), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

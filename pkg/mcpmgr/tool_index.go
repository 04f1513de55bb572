package mcpmgr

import (
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	metaKeyServerName = "mcpgw.server"
	metaKeyRawName    = "mcpgw.raw_name"
)

// ToolDescriptor describes one tool as presented to gateway clients.
type ToolDescriptor struct {
	RawName     string `json:"rawName"`
	ExposedName string `json:"exposedName"`
	ServerName  string `json:"serverName"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// Tool converts the descriptor to an mcp.Tool carrying its origin in _meta.
func (d ToolDescriptor) Tool() *mcp.Tool {
	return &mcp.Tool{
		Name:        d.ExposedName,
		Description: d.Description,
		InputSchema: d.InputSchema,
		Meta: map[string]any{
			metaKeyServerName: d.ServerName,
			metaKeyRawName:    d.RawName,
		},
	}
}

type toolTarget struct {
	ExposedName string
	ServerName  string
	RawName     string
}

// toolIndex holds the advertised tools of every ready session and the
// exposed-name table derived from them. The table is rebuilt from scratch on
// every change, so it does not depend on the order sessions became ready.
type toolIndex struct {
	ns     NamespaceStrategy
	logger *slog.Logger

	mu          sync.RWMutex
	serverTools map[string][]*mcp.Tool
	blacklists  map[string]map[string]struct{}
	targets     map[string]toolTarget
	descriptors []ToolDescriptor
}

func newToolIndex(ns NamespaceStrategy, logger *slog.Logger) *toolIndex {
	return &toolIndex{
		ns:          ns,
		logger:      logger,
		serverTools: make(map[string][]*mcp.Tool),
		blacklists:  make(map[string]map[string]struct{}),
		targets:     make(map[string]toolTarget),
	}
}

// UpdateTools replaces the advertised tools of serverName.
func (ix *toolIndex) UpdateTools(serverName string, tools []*mcp.Tool, blacklist map[string]struct{}) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.serverTools[serverName] = slices.DeleteFunc(slices.Clone(tools), func(t *mcp.Tool) bool { return t == nil })
	ix.blacklists[serverName] = blacklist
	ix.rebuildLocked()
}

// RemoveServer drops serverName, typically because its session closed.
func (ix *toolIndex) RemoveServer(serverName string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.serverTools[serverName]; !ok {
		return
	}
	delete(ix.serverTools, serverName)
	delete(ix.blacklists, serverName)
	ix.rebuildLocked()
}

func (ix *toolIndex) rebuildLocked() {
	owners := make(map[string]int)
	for server, tools := range ix.serverTools {
		for _, t := range tools {
			if _, banned := ix.blacklists[server][t.Name]; !banned {
				owners[t.Name]++
			}
		}
	}

	targets := make(map[string]toolTarget)
	var descriptors []ToolDescriptor
	for _, server := range slices.Sorted(maps.Keys(ix.serverTools)) {
		for _, t := range ix.serverTools[server] {
			if _, banned := ix.blacklists[server][t.Name]; banned {
				continue
			}
			exposed := t.Name
			if owners[t.Name] > 1 {
				exposed = ix.ns.ToolName(server, t.Name)
			}
			if prev, dup := targets[exposed]; dup {
				ix.logger.Error("duplicate exposed tool name; keeping first owner",
					"tool", exposed, "kept", prev.ServerName, "dropped", server)
				continue
			}
			targets[exposed] = toolTarget{ExposedName: exposed, ServerName: server, RawName: t.Name}
			descriptors = append(descriptors, ToolDescriptor{
				RawName:     t.Name,
				ExposedName: exposed,
				ServerName:  server,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].ExposedName < descriptors[j].ExposedName })
	ix.targets = targets
	ix.descriptors = descriptors
}

// Lookup resolves an exposed name.
func (ix *toolIndex) Lookup(exposed string) (toolTarget, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	t, ok := ix.targets[exposed]
	return t, ok
}

// Advertises reports whether serverName's session advertises rawName,
// blacklisted or not.
func (ix *toolIndex) Advertises(serverName, rawName string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return slices.ContainsFunc(ix.serverTools[serverName], func(t *mcp.Tool) bool { return t.Name == rawName })
}

// Descriptor returns the descriptor of serverName's rawName, if listed.
func (ix *toolIndex) Descriptor(serverName, rawName string) (ToolDescriptor, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, d := range ix.descriptors {
		if d.ServerName == serverName && d.RawName == rawName {
			return d, true
		}
	}
	return ToolDescriptor{}, false
}

// Descriptors returns the listing sorted by exposed name, restricted to
// serverName when it is not empty.
func (ix *toolIndex) Descriptors(serverName string) []ToolDescriptor {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(ix.descriptors))
	for _, d := range ix.descriptors {
		if serverName == "" || d.ServerName == serverName {
			out = append(out, d)
		}
	}
	return out
}

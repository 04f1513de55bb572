// Package hooks answers agent pre-tool-use hooks. Each supported agent kind
// has an Adapter that decodes the agent's event and encodes the decision in
// the agent's format; the decision itself is shared.
package hooks

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Agent names a supported agent kind.
type Agent string

const (
	AgentClaudeCode Agent = "claude-code"
	AgentGeminiCLI  Agent = "gemini-cli"
)

// Call is the agent-independent view of a pending tool call.
type Call struct {
	Event     string
	ToolName  string
	ToolInput map[string]any
}

// Decision is the verdict on a Call.
type Decision struct {
	Allow  bool
	Reason string
}

// Adapter translates between one agent's hook wire format and Call/Decision.
type Adapter interface {
	Decode(r io.Reader) (*Call, error)
	Encode(w io.Writer, call *Call, d Decision) error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[Agent]Adapter)
)

// Register adds an adapter. It panics if agent is already registered.
func Register(agent Agent, adapter Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[agent]; exists {
		panic(fmt.Sprintf("hook adapter already registered for agent: %s", agent))
	}
	registry[agent] = adapter
}

// Lookup returns the adapter for agent.
func Lookup(agent string) (Adapter, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	adapter, ok := registry[Agent(agent)]
	if !ok {
		return nil, fmt.Errorf("hooks: unknown agent %q (supported: %v)", agent, agentsLocked())
	}
	return adapter, nil
}

// Agents lists the registered agent kinds, sorted.
func Agents() []Agent {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return agentsLocked()
}

func agentsLocked() []Agent {
	agents := make([]Agent, 0, len(registry))
	for a := range registry {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i] < agents[j] })
	return agents
}

func init() {
	Register(AgentClaudeCode, claudeCode{})
	Register(AgentGeminiCLI, geminiCLI{})
}

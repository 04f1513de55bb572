package mcpconfig

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport identifies how the gateway reaches a downstream server.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
	TransportSSE   Transport = "sse"
)

// MergeStrategy selects how a remote document is combined with the local one.
type MergeStrategy string

const (
	// MergeLocalPriority keeps local entries key for key; remote fills gaps.
	MergeLocalPriority MergeStrategy = "local-priority"
	// MergeRemotePriority is the inverse of MergeLocalPriority.
	MergeRemotePriority MergeStrategy = "remote-priority"
	// MergeDeep merges entries sharing a name field by field. Nested maps
	// (env, headers) merge key by key and local leaves win.
	MergeDeep MergeStrategy = "merge-deep"
)

// Valid reports whether s is one of the known strategies.
func (s MergeStrategy) Valid() bool {
	switch s {
	case MergeLocalPriority, MergeRemotePriority, MergeDeep:
		return true
	default:
		return false
	}
}

// ServerSpec is the normalized, immutable description of one downstream
// server. Exactly one of Command or URL is set.
type ServerSpec struct {
	Name      string            `json:"name"`
	Transport Transport         `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Disabled  bool              `json:"disabled,omitempty"`
	// Timeout bounds connection and invocation; zero means the manager default.
	Timeout          time.Duration       `json:"timeout,omitempty"`
	Instruction      string              `json:"instruction,omitempty"`
	ToolBlacklist    map[string]struct{} `json:"-"`
	OmitDescriptions bool                `json:"omitDescriptions,omitempty"`
}

// IsBlacklisted reports whether tool is excluded for this server.
func (s ServerSpec) IsBlacklisted(tool string) bool {
	_, ok := s.ToolBlacklist[tool]
	return ok
}

// Blacklist returns the blacklisted tool names in sorted order.
func (s ServerSpec) Blacklist() []string {
	names := make([]string, 0, len(s.ToolBlacklist))
	for name := range s.ToolBlacklist {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolved is the result of a configuration load. It is shared between
// callers and must be treated as read-only.
type Resolved struct {
	Servers map[string]ServerSpec `json:"servers"`
	// FetchedAt records when this configuration was produced.
	FetchedAt time.Time `json:"fetchedAt"`
	// Sources lists where the configuration came from: the local path and
	// any remote URLs that contributed.
	Sources []string `json:"sources"`
}

// Names returns all server names, sorted.
func (r *Resolved) Names() []string {
	if r == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(r.Servers))
}

// Enabled returns the names of servers that are not disabled, sorted.
func (r *Resolved) Enabled() []string {
	if r == nil {
		return nil
	}
	var names []string
	for _, name := range r.Names() {
		if !r.Servers[name].Disabled {
			names = append(names, name)
		}
	}
	return names
}

// Server looks up a server by name.
func (r *Resolved) Server(name string) (ServerSpec, bool) {
	if r == nil {
		return ServerSpec{}, false
	}
	s, ok := r.Servers[name]
	return s, ok
}

// RemoteSource declares a remote configuration document.
type RemoteSource struct {
	URL           string            `json:"url" yaml:"url"`
	Headers       map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	MergeStrategy MergeStrategy     `json:"mergeStrategy,omitempty" yaml:"mergeStrategy,omitempty"`
}

// document is the on-disk configuration shape.
type document struct {
	MCPServers    map[string]rawServer `json:"mcpServers" yaml:"mcpServers"`
	RemoteConfigs []RemoteSource       `json:"remoteConfigs,omitempty" yaml:"remoteConfigs,omitempty"`
}

type rawServer struct {
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Type    string            `json:"type,omitempty" yaml:"type,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// Disabled is a pointer so that an explicit false survives merge-deep.
	Disabled *bool           `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Timeout  Duration        `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Config   rawServerConfig `json:"config,omitempty" yaml:"config,omitempty"`
}

type rawServerConfig struct {
	Instruction         string   `json:"instruction,omitempty" yaml:"instruction,omitempty"`
	ToolBlacklist       []string `json:"toolBlacklist,omitempty" yaml:"toolBlacklist,omitempty"`
	OmitToolDescription *bool    `json:"omitToolDescription,omitempty" yaml:"omitToolDescription,omitempty"`
}

// Duration accepts either a Go duration string ("30s") or a number of
// milliseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	var ms float64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("timeout must be a duration string or milliseconds: %w", err)
	}
	*d = Duration(time.Duration(ms * float64(time.Millisecond)))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	if d == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(time.Duration(ms * float64(time.Millisecond)))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid timeout %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

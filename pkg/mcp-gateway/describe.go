package mcpgateway

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcpconfig"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcperr"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcpmgr"
)

// DescribeInput is the argument of describe_tools.
type DescribeInput struct {
	ToolNames  []string `json:"toolNames,omitempty" jsonschema:"tool names to describe, as listed or as server/tool; all tools when empty"`
	ServerName string   `json:"serverName,omitempty" jsonschema:"only describe tools of this server"`
}

// DescribeOutput groups tool descriptions by server.
type DescribeOutput struct {
	Servers  []ServerDescription      `json:"servers"`
	NotFound []string                 `json:"notFound,omitempty"`
	Errors   map[string]*mcperr.Error `json:"errors,omitempty"`
}

// ServerDescription is one server's section of a describe result.
type ServerDescription struct {
	Name        string     `json:"name"`
	Instruction string     `json:"instruction,omitempty"`
	Note        string     `json:"note,omitempty"`
	Tools       []ToolInfo `json:"tools"`
}

// ToolInfo describes one tool. Only Name is set for servers configured with
// omitToolDescription.
type ToolInfo struct {
	Name        string `json:"name"`
	RawName     string `json:"rawName,omitempty"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// Describe connects the servers in scope and describes their tools.
func (g *Gateway) Describe(ctx context.Context, in DescribeInput) (*DescribeOutput, error) {
	listing, err := g.manager.ListTools(ctx, in.ServerName)
	if err != nil {
		return nil, err
	}
	cfg, err := g.manager.Config(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(in.ToolNames))
	for _, name := range in.ToolNames {
		wanted[name] = false
	}
	matches := func(d mcpmgr.ToolDescriptor) bool {
		if len(wanted) == 0 {
			return true
		}
		hit := false
		for _, name := range []string{d.ExposedName, d.RawName} {
			if _, ok := wanted[name]; ok {
				wanted[name] = true
				hit = true
			}
		}
		return hit
	}

	byServer := make(map[string][]ToolInfo)
	for _, d := range listing.Tools {
		if !matches(d) {
			continue
		}
		spec, _ := cfg.Server(d.ServerName)
		byServer[d.ServerName] = append(byServer[d.ServerName], toolInfo(d, spec))
	}

	out := &DescribeOutput{Servers: []ServerDescription{}, Errors: listing.Errors}
	for _, name := range scope(cfg, in.ServerName) {
		tools := byServer[name]
		if len(tools) == 0 && len(wanted) > 0 {
			continue
		}
		if tools == nil {
			tools = []ToolInfo{}
		}
		spec, _ := cfg.Server(name)
		out.Servers = append(out.Servers, ServerDescription{
			Name:        name,
			Instruction: spec.Instruction,
			Note:        blacklistNote(spec),
			Tools:       tools,
		})
	}
	for _, name := range in.ToolNames {
		if !wanted[name] && !slices.Contains(out.NotFound, name) {
			out.NotFound = append(out.NotFound, name)
		}
	}
	return out, nil
}

func scope(cfg *mcpconfig.Resolved, serverName string) []string {
	if serverName != "" {
		return []string{serverName}
	}
	return cfg.Enabled()
}

func toolInfo(d mcpmgr.ToolDescriptor, spec mcpconfig.ServerSpec) ToolInfo {
	info := ToolInfo{Name: d.ExposedName}
	if spec.OmitDescriptions {
		return info
	}
	if d.RawName != d.ExposedName {
		info.RawName = d.RawName
	}
	info.Description = d.Description
	info.InputSchema = d.InputSchema
	return info
}

func blacklistNote(spec mcpconfig.ServerSpec) string {
	names := spec.Blacklist()
	if len(names) == 0 {
		return ""
	}
	return fmt.Sprintf("not available on this server: %s", strings.Join(names, ", "))
}

// toolCatalog renders the describe_tools description: every enabled server
// and its instruction, without connecting anything.
func toolCatalog(cfg *mcpconfig.Resolved) string {
	var b strings.Builder
	b.WriteString("Describe the tools offered by downstream MCP servers before calling use_tool. ")
	b.WriteString("Pass toolNames to describe specific tools, or serverName to describe one server.")
	enabled := cfg.Enabled()
	if len(enabled) == 0 {
		b.WriteString("\n\nNo servers are configured.")
		return b.String()
	}
	b.WriteString("\n\nAvailable servers:")
	for _, name := range enabled {
		spec, _ := cfg.Server(name)
		b.WriteString("\n- ")
		b.WriteString(name)
		if spec.Instruction != "" {
			b.WriteString(": ")
			b.WriteString(spec.Instruction)
		}
	}
	return b.String()
}

package mcpmgr

import "strings"

// NamespaceStrategy derives the exposed name of a tool whose raw name is
// advertised by more than one server. Implementations must be deterministic
// and reversible.
type NamespaceStrategy interface {
	ToolName(serverName, toolName string) string
	// Split reverses ToolName. ok is false when exposed is not in prefixed form.
	Split(exposed string) (serverName, toolName string, ok bool)
}

// ServerPrefixNamespace prefixes the tool with the server name, separated by
// Separator ("/" by default).
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) separator() string {
	if s.Separator == "" {
		return "/"
	}
	return s.Separator
}

func (s ServerPrefixNamespace) ToolName(serverName, toolName string) string {
	return serverName + s.separator() + toolName
}

func (s ServerPrefixNamespace) Split(exposed string) (string, string, bool) {
	server, tool, ok := strings.Cut(exposed, s.separator())
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

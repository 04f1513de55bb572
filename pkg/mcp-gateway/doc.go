// Package mcpgateway serves the progressive-discovery front end of the
// gateway. Agents see exactly two tools: describe_tools, which connects the
// servers in scope and describes their tools, and use_tool, which routes a
// call through mcpmgr. Servers are contacted only when one of these tools
// needs them.
//
// The gateway serves MCP over stdio (ServeStdio) or Streamable HTTP
// (Handler, ListenAndServe). The HTTP router also carries /healthz, /metrics
// and a small JSON API under /api mirroring the administrative operations.
package mcpgateway

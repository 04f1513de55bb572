// Package mcpmgr manages lazily opened sessions to downstream Model Context
// Protocol servers on behalf of the gateway.
//
// # Core entry points
//
//   - Manager owns one session per configured server. Construct it with
//     NewManager over a ConfigSource (usually *mcpconfig.Store). Nothing is
//     dialed until ListTools or Invoke needs a server.
//   - ListTools aggregates the tools of every ready session. A raw tool name
//     advertised by more than one server is exposed as "server/tool"; all
//     other tools keep their raw name. The listing is sorted by exposed name
//     and does not depend on the order servers connected.
//   - Invoke routes a tool call by exposed name, by "server/tool", or to an
//     explicit server. Every failure, including a tool reporting isError, is
//     returned in InvokeResult.Error as an *mcperr.Error.
//   - Shutdown closes all sessions concurrently.
//
// Each server moves through idle, connecting, ready, failed and closed.
// Concurrent callers that need the same server share a single connection
// attempt. A failed or closed server is retried on its next use.
//
// Blacklisted tools never appear in listings and are rejected by Invoke with
// mcperr.KindToolBlacklisted before the server is contacted.
//
// Progress notifications sent by a downstream server during Invoke are
// relayed to the sink attached with WithProgress.
package mcpmgr

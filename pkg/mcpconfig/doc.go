// Package mcpconfig resolves the gateway's downstream server configuration.
//
// A Store reads a local YAML or JSON (JSONC accepted) file with a top-level
// mcpServers map, validates it, optionally merges remote documents declared
// under remoteConfigs, expands ${NAME} placeholders, and memoizes the result
// for a TTL:
//
//	store := mcpconfig.NewStore(mcpconfig.Options{Path: "mcp-config.yaml"})
//	cfg, err := store.Resolve(ctx, false)
//
// Remote documents are looked up in a configcache.Cache before going to the
// network. A remote source that cannot be fetched or parsed is logged and
// skipped; only a missing local file with no usable remote is fatal.
package mcpconfig

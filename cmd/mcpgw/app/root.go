// Package app provides the entry point for the mcpgw command-line application.
package app

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/configcache"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcpconfig"
)

// EnvPrefix namespaces the environment variables that mirror the global flags,
// e.g. MCPGW_CONFIG or MCPGW_REMOTE_URL.
const EnvPrefix = "MCPGW"

// Version is stamped at build time.
var Version = "dev"

// cli carries the state shared by all subcommands of one root command.
type cli struct {
	v      *viper.Viper
	logger *slog.Logger
}

// NewRootCmd creates a new root command for the mcpgw CLI.
func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), logger: slog.Default()}

	rootCmd := &cobra.Command{
		Use:   "mcpgw",
		Short: "Progressive-discovery gateway for MCP servers",
		Long: `mcpgw fronts a set of MCP servers with two meta-tools, describe_tools and
use_tool, so that agents only load the tool descriptions they ask for.
Downstream servers are connected lazily on first use.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelInfo
			if c.v.GetBool("debug") {
				level = slog.LevelDebug
			}
			c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			slog.SetDefault(c.logger)
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", mcpconfig.DefaultFileName, "Path to the gateway configuration file (YAML or JSON)")
	flags.String("remote-url", "", "URL of a remote configuration merged over the local file")
	flags.String("merge-strategy", string(mcpconfig.MergeLocalPriority),
		"How the remote configuration is merged: local-priority, remote-priority or merge-deep")
	flags.String("env-file", ".env", "Optional .env file used for ${NAME} substitution")
	flags.String("cache-dir", configcache.DefaultDir(), "Directory caching remote configuration documents")
	flags.Duration("cache-ttl", configcache.DefaultTTL, "Lifetime of cached remote configuration documents")
	flags.Bool("no-cache", false, "Always fetch remote configuration; fetched documents are still cached")
	flags.Bool("cache-read-only", false, "Use cached remote configuration but never write new entries")
	flags.Duration("timeout", 30*time.Second, "Default connect and call timeout for servers without their own")
	flags.Bool("log-jsonrpc", false, "Log JSON-RPC traffic with downstream servers at debug level")
	flags.Bool("json", false, "Print machine-readable JSON instead of tables")
	flags.Bool("debug", false, "Enable debug logging")

	for _, name := range []string{
		"config", "remote-url", "merge-strategy", "env-file", "cache-dir", "cache-ttl",
		"no-cache", "cache-read-only", "timeout", "log-jsonrpc", "json", "debug",
	} {
		_ = c.v.BindPFlag(name, flags.Lookup(name))
	}
	c.v.SetEnvPrefix(EnvPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	rootCmd.AddCommand(
		c.newServeCmd(),
		c.newServersCmd(),
		c.newListToolsCmd(),
		c.newDescribeToolsCmd(),
		c.newUseToolCmd(),
		c.newInitCmd(),
		c.newPrefetchCmd(),
		c.newCacheCmd(),
		c.newHookCmd(),
	)
	return rootCmd
}

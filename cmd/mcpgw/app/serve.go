package app

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	mcpgateway "github.com/vikashloomba/mcp-progressive-gateway/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/telemetry"
)

func (c *cli) newServeCmd() *cobra.Command {
	var (
		addr    string
		path    string
		origins []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gateway over stdio, or over HTTP with --http",
		Long: `Serve exposes describe_tools and use_tool to an MCP client.

Without --http the gateway speaks MCP on stdin and stdout and logs to stderr.
With --http it serves the Streamable HTTP endpoint at --path together with
/healthz, /metrics and the /api administrative routes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			metrics := telemetry.New()
			rt, err := c.newRuntime(ctx, metrics)
			if err != nil {
				return err
			}
			defer rt.close()

			gw, err := mcpgateway.NewGateway(rt.manager, &mcpgateway.Options{
				Implementation: &mcp.Implementation{Name: "mcpgw", Title: "MCP Progressive Gateway", Version: Version},
				Addr:           addr,
				Path:           path,
				AllowedOrigins: origins,
				Metrics:        metrics,
				Logger:         c.logger,
			})
			if err != nil {
				return err
			}
			if addr == "" {
				c.logger.Info("serving gateway on stdio", "config", rt.store.Path())
				return gw.ServeStdio(ctx)
			}
			return gw.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "http", "", "Listen address for HTTP mode, e.g. :8700; stdio when empty")
	cmd.Flags().StringVar(&path, "path", "/mcp", "Path of the Streamable HTTP endpoint")
	cmd.Flags().StringSliceVar(&origins, "allowed-origin", nil, "Origins allowed by CORS; any origin when unset")
	return cmd
}

package app

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	mcpgateway "github.com/vikashloomba/mcp-progressive-gateway/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcperr"
)

func (c *cli) newServersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List configured servers and their connection state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.newRuntime(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer rt.close()

			servers, err := rt.manager.Servers(cmd.Context())
			if err != nil {
				return err
			}
			if c.v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), servers)
			}
			rows := make([][]string, 0, len(servers))
			for _, s := range servers {
				rows = append(rows, []string{
					s.Name, string(s.Transport), string(s.State), strconv.FormatBool(!s.Disabled),
					strings.Join(s.Blacklist, ","), cell(s.Instruction),
				})
			}
			return renderTable(cmd.OutOrStdout(), []string{"Server", "Transport", "State", "Enabled", "Blacklist", "Instruction"}, rows)
		},
	}
}

func (c *cli) newListToolsCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "list-tools",
		Short: "Connect the configured servers and list every tool they expose",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.newRuntime(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer rt.close()

			listing, err := rt.manager.ListTools(cmd.Context(), server)
			if err != nil {
				return err
			}
			if c.v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), listing)
			}
			rows := make([][]string, 0, len(listing.Tools))
			for _, t := range listing.Tools {
				rows = append(rows, []string{t.ExposedName, t.ServerName, cell(t.Description)})
			}
			if err := renderTable(cmd.OutOrStdout(), []string{"Tool", "Server", "Description"}, rows); err != nil {
				return err
			}
			printServerErrors(cmd.ErrOrStderr(), listing.Errors)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Only list the tools of this server")
	return cmd
}

func printServerErrors(w io.Writer, errs map[string]*mcperr.Error) {
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s: %v\n", name, errs[name])
	}
}

func (c *cli) newDescribeToolsCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "describe-tools [tool...]",
		Short: "Describe tools the way the describe_tools meta-tool does",
		Long: `Describe-tools prints descriptions and input schemas as JSON, grouped by server.
With no arguments every tool in scope is described.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.newRuntime(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer rt.close()

			gw, err := mcpgateway.NewGateway(rt.manager, &mcpgateway.Options{Logger: c.logger})
			if err != nil {
				return err
			}
			out, err := gw.DescribeTools(cmd.Context(), args, server)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Only describe tools of this server")
	return cmd
}

func (c *cli) newUseToolCmd() *cobra.Command {
	var (
		server  string
		rawArgs string
	)
	cmd := &cobra.Command{
		Use:   "use-tool <tool>",
		Short: "Invoke a tool the way the use_tool meta-tool does",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var toolArgs map[string]any
			if rawArgs != "" {
				if err := json.Unmarshal([]byte(rawArgs), &toolArgs); err != nil {
					return fmt.Errorf("--args must be a JSON object: %w", err)
				}
			}
			rt, err := c.newRuntime(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer rt.close()

			gw, err := mcpgateway.NewGateway(rt.manager, &mcpgateway.Options{Logger: c.logger})
			if err != nil {
				return err
			}
			res := gw.ExecuteTool(cmd.Context(), args[0], toolArgs, server)
			if c.v.GetBool("json") {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else if res.Result != nil {
				if err := printContent(cmd.OutOrStdout(), res.Result.Content); err != nil {
					return err
				}
			}
			if !res.OK {
				if res.Error != nil {
					return res.Error
				}
				return fmt.Errorf("tool %s failed", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Server that owns the tool")
	cmd.Flags().StringVar(&rawArgs, "args", "", "Tool arguments as a JSON object")
	return cmd
}

// printContent prints text content verbatim and any other content as JSON.
func printContent(w io.Writer, content []mcp.Content) error {
	for _, item := range content {
		if text, ok := item.(*mcp.TextContent); ok {
			fmt.Fprintln(w, text.Text)
			continue
		}
		if err := printJSON(w, item); err != nil {
			return err
		}
	}
	return nil
}

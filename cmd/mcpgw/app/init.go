package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcpconfig"
)

func (c *cli) newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long: `Init writes a starter configuration to the --config path. The format follows
the file extension: .json for JSON, YAML otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := c.v.GetString("config")
			if err := mcpconfig.WriteDefault(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote starter configuration to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")
	return cmd
}

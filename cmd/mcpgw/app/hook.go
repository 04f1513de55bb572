package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/hooks"
)

func (c *cli) newHookCmd() *cobra.Command {
	var agent string
	agents := make([]string, 0, 2)
	for _, a := range hooks.Agents() {
		agents = append(agents, string(a))
	}
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Answer a coding agent's pre-tool-use hook",
		Long: fmt.Sprintf(`Hook reads one pre-tool-use event from stdin and writes the agent's decision
to stdout. use_tool calls that target a blacklisted tool are denied.

Supported agents: %s`, strings.Join(agents, ", ")),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.newStore(nil)
			if err != nil {
				return err
			}
			defer store.close()
			_, err = hooks.Run(cmd.Context(), agent, store, cmd.InOrStdin(), cmd.OutOrStdout(), c.logger)
			return err
		},
	}
	cmd.Flags().StringVar(&agent, "agent", string(hooks.AgentClaudeCode), "Agent that emitted the event")
	return cmd
}

package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/prefetch"
)

func (c *cli) newPrefetchCmd() *cobra.Command {
	var (
		parallel bool
		dryRun   bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "prefetch",
		Short: "Install the npm and pip packages that stdio servers launch",
		Long: `Prefetch installs the packages referenced by npx and uvx/pipx servers ahead of
time so that the first connection does not pay for the download. Package names
are validated before anything is run; no shell is involved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.newStore(nil)
			if err != nil {
				return err
			}
			defer store.close()
			cfg, err := store.Resolve(cmd.Context(), false)
			if err != nil {
				return err
			}
			refs, rejected := prefetch.Extract(cfg)
			summary := prefetch.New(prefetch.Options{Logger: c.logger}).Run(cmd.Context(), refs, prefetch.RunOptions{
				Parallel: parallel,
				DryRun:   dryRun,
				Timeout:  timeout,
			})
			summary.Rejected = rejected

			if c.v.GetBool("json") {
				if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
					return err
				}
			} else if err := renderSummary(cmd, summary); err != nil {
				return err
			}
			if summary.Failed > 0 || len(summary.Rejected) > 0 {
				return fmt.Errorf("%d of %d packages failed, %d rejected",
					summary.Failed, summary.Total, len(summary.Rejected))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&parallel, "parallel", false, "Run all installs at once")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the install commands without running them")
	cmd.Flags().DurationVar(&timeout, "install-timeout", 5*time.Minute, "Time limit for each install")
	return cmd
}

func renderSummary(cmd *cobra.Command, summary *prefetch.Summary) error {
	rows := make([][]string, 0, len(summary.Results)+len(summary.Rejected))
	for _, r := range summary.Results {
		status := "ok"
		switch {
		case r.Skipped:
			status = "dry-run"
		case !r.OK:
			status = "failed: " + cell(r.Error)
		}
		rows = append(rows, []string{r.Ref.ServerName, string(r.Ref.Manager), r.Ref.Package, r.Command, status})
	}
	for _, r := range summary.Rejected {
		reason := "invalid package name"
		if r.Err != nil {
			reason = r.Err.Message
		}
		rows = append(rows, []string{r.ServerName, "", r.Value, "", "rejected: " + cell(reason)})
	}
	if err := renderTable(cmd.OutOrStdout(), []string{"Server", "Manager", "Package", "Command", "Status"}, rows); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d succeeded, %d failed\n", summary.Succeeded, summary.Failed)
	return nil
}

package app

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func (c *cli) newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the remote configuration cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show the number and total size of cached documents",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cache := c.newCache()
				stats, err := cache.Stats()
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), struct {
						Dir        string `json:"dir"`
						Count      int    `json:"count"`
						TotalBytes int64  `json:"totalBytes"`
					}{cache.Dir(), stats.Count, stats.TotalBytes})
				}
				return renderTable(cmd.OutOrStdout(), []string{"Directory", "Entries", "Bytes"}, [][]string{{
					cache.Dir(), strconv.Itoa(stats.Count), strconv.FormatInt(stats.TotalBytes, 10),
				}})
			},
		},
		&cobra.Command{
			Use:   "clear [url]",
			Short: "Remove the cached document for url, or every cached document",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cache := c.newCache()
				if len(args) == 1 {
					if err := cache.Clear(args[0]); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Cleared cached configuration")
					return nil
				}
				if err := cache.ClearAll(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cleared all cached configuration")
				return nil
			},
		},
		&cobra.Command{
			Use:   "clean",
			Short: "Remove expired cached documents",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				removed, err := c.newCache().CleanExpired()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired entries\n", removed)
				return nil
			},
		},
	)
	return cmd
}

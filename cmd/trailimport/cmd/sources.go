package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/trailhead/trailimport/internal/app"
)

func newSourcesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured data sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				sources, err := a.Sources.ListAll(ctx)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), sources)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTYPE\tACTIVE\tLAST SYNCED\tNAME")
				for _, s := range sources {
					synced := "-"
					if s.LastSynced != nil {
						synced = s.LastSynced.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", s.ID, s.SourceType, s.IsActive, synced, s.Name)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\nadapters: %s\n", strings.Join(a.Registry.Types(), ", "))
				return nil
			})
		},
	}
}

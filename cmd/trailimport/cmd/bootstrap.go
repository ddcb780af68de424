package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trailhead/trailimport/internal/app"
)

func newBootstrapCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Import trails if the store is below the configured threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				res, err := a.Bootstrapper.CheckAndBootstrap(ctx)
				if err != nil {
					return err
				}
				if res.Triggered {
					a.Bootstrapper.Wait()
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}

				out := cmd.OutOrStdout()
				switch {
				case !res.Needed:
					fmt.Fprintf(out, "store holds %d trails, no import needed\n", res.CurrentCount)
				case res.AlreadyRunning:
					fmt.Fprintln(out, "an import is already running")
				default:
					fmt.Fprintf(out, "store held %d trails, import started\n", res.CurrentCount)
				}
				if res.JobID == "" {
					return nil
				}
				snap, err := a.Bootstrapper.GetProgress(ctx, res.JobID)
				if err != nil {
					return err
				}
				printSnapshot(out, snap)
				return nil
			})
		},
	}
}

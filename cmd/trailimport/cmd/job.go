package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/trailhead/trailimport/internal/app"
	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/service"
)

func newJobCmd(opts *rootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "job [job_id]",
		Short: "Show the progress of an import or bulk import job",
		Long: `Show the progress of an import job. Bulk job ids are accepted as well.
With --watch the job is polled until it reaches completed or error, or until
the configured monitor timeout passes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				if !watch {
					snap, err := a.Bootstrapper.GetProgress(ctx, jobID)
					if err != nil {
						return err
					}
					if opts.jsonOutput {
						return printJSON(out, snap)
					}
					printSnapshot(out, snap)
					return nil
				}

				snap, err := a.Orchestrator.Tracker().WatchJob(ctx, jobID, service.WatchOptions{
					Interval: a.Config.Bootstrap.PollInterval,
					Timeout:  a.Config.Bootstrap.MonitorTimeout,
					OnTick: func(s domain.JobSnapshot) {
						if !opts.jsonOutput {
							printSnapshot(out, s)
						}
					},
				})
				if opts.jsonOutput && snap.ID != "" {
					if perr := printJSON(out, snap); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "poll until the job finishes")
	return cmd
}

package cmd

import (
	"context"
	"sync"

	"github.com/spf13/cobra"

	"github.com/trailhead/trailimport/internal/app"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		sourceIDs []string
		target    int
		quiet     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an import now and wait for it to finish",
		Long: `Run executes the four import phases (health check, fetch, batch import,
post validation) in this process and prints the phase summary.

--sources takes data source ids or source types. Without it every active
source is imported. --target caps the number of records fetched across all
selected sources; 0 means no cap beyond each source's own limit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				var wg sync.WaitGroup
				if !quiet && !opts.jsonOutput {
					events, unsubscribe := a.Bootstrapper.Progress().Subscribe()
					defer func() {
						unsubscribe()
						wg.Wait()
					}()
					wg.Add(1)
					go func() {
						defer wg.Done()
						for p := range events {
							printProgress(cmd.ErrOrStderr(), p)
						}
					}()
				}

				res, runErr := a.Bootstrapper.RunNow(ctx, sourceIDs, target)
				if res != nil {
					if opts.jsonOutput {
						if err := printJSON(cmd.OutOrStdout(), res); err != nil {
							return err
						}
					} else {
						printResult(cmd.OutOrStdout(), res)
					}
				}
				return runErr
			})
		},
	}
	cmd.Flags().StringSliceVar(&sourceIDs, "sources", nil, "data source ids or types to import (default: all active)")
	cmd.Flags().IntVar(&target, "target", 0, "maximum number of records to fetch across sources")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print batch progress")
	return cmd
}

// Package cmd implements the trailimport command tree. Commands run the
// pipeline in-process against the configured store.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trailhead/trailimport/internal/app"
	"github.com/trailhead/trailimport/internal/config"
	"github.com/trailhead/trailimport/internal/logger"
)

type rootOptions struct {
	configPath string
	logLevel   string
	jsonOutput bool
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "trailimport",
		Short: "Import hiking trails from public data sources",
		Long: `trailimport fetches trail records from public feeds, validates and
normalizes them, and upserts them into the trail store in bounded batches.

Common workflows:

  Import from every active source:
    trailimport run

  Import 500 trails from one source:
    trailimport run --sources usgs-national --target 500

  Fill the store when it is below the configured threshold:
    trailimport bootstrap

  Follow a job started elsewhere:
    trailimport job <job-id> --watch

Configuration is read from ./configs/config.yaml, or the file passed with
--config. CONFIG_PATH and the usual environment overrides also apply.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CONFIG_PATH"), "config file (default is ./configs/config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		newRunCmd(opts),
		newBootstrapCmd(opts),
		newStatusCmd(opts),
		newJobCmd(opts),
		newSourcesCmd(opts),
	)
	return root
}

// withApp loads config, wires the pipeline and hands it to fn. The context
// is cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) error {
	log := logger.New(&logger.Config{
		Level:       opts.logLevel,
		Format:      "text",
		Output:      cmd.ErrOrStderr(),
		ServiceName: "trailimport-cli",
	})
	logger.SetDefaultLogger(log)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.WithError(err).Warn("Failed to close application cleanly")
		}
	}()

	return fn(logger.SetComponent(log.WithContext(ctx), "cli"), a)
}

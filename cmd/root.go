// Package cmd defines the parking-monitor command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/beach-parking-monitor/internal/app"
	"github.com/JakeFAU/beach-parking-monitor/internal/parking"
	"github.com/JakeFAU/beach-parking-monitor/internal/pipeline"
)

// App is the surface the command needs. Tests swap in a fake through newApp.
type App interface {
	Run(ctx context.Context, opts pipeline.Options) (parking.RunResult, error)
	Logger() *zap.Logger
	Close()
}

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	return app.Load(ctx, cfgPath)
}

type rootOptions struct {
	cfgFile string
	noDB    bool
	json    bool
}

// newRootCmd creates the root command. The monitor has no subcommands; the
// root command runs the pipeline once.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "parking-monitor",
		Short: "Scrape beach parking status and store it.",
		Long: `parking-monitor fetches the municipal beach parking page, extracts the
status of every beach car park and writes the batch to the configured
database. With --no-db the records are printed as JSON instead.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), opts.cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd, opts)
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "optional YAML config file")
	cmd.Flags().BoolVar(&opts.noDB, "no-db", false, "skip the database write and print JSON")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the records as JSON")
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

func runMonitor(cmd *cobra.Command, opts *rootOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	res, err := appInstance.Run(cmd.Context(), pipeline.Options{
		Persist:  !opts.noDB,
		EmitJSON: opts.json,
	})
	if err != nil {
		// PersistentPostRun is skipped when RunE fails.
		defer appInstance.Close()
		logger.Error("Run failed", zap.String("run_id", res.RunID), zap.Error(err))
		return err
	}
	logger.Info("Run finished",
		zap.String("run_id", res.RunID),
		zap.Int("records", len(res.Records)),
		zap.Bool("persisted", res.Persisted),
	)
	return nil
}

// Execute runs the root command and exits 1 on any failure.
func Execute(ctx context.Context) {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "parking-monitor:", err)
		os.Exit(1)
	}
}

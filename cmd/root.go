// Package cmd defines the CLI commands for the propertyd executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pinellas-property-scraper/internal/config"
	"github.com/JakeFAU/pinellas-property-scraper/internal/logging"
	"github.com/JakeFAU/pinellas-property-scraper/internal/lookup"
	"github.com/JakeFAU/pinellas-property-scraper/internal/server"
)

type appKeyType string

const appKey appKeyType = "app"

// App is the surface subcommands use. Tests swap in a fake through newApp.
type App interface {
	Run(ctx context.Context) error
	Lookup(ctx context.Context, raw string) lookup.Result
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

var newApp = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (App, error) {
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by the caller
	}
	return app, nil
}

var newLogger = logging.New

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "propertyd",
		Short: "Pinellas County property appraiser lookups.",
		Long: `propertyd resolves a street address against the Pinellas County
property appraiser site and returns the parcel's ownership, valuation,
sales and structural details as JSON. It runs as an HTTP service or as a
one-shot command.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), &cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			appInstance, ok := cmd.Context().Value(appKey).(App)
			if !ok || appInstance == nil {
				return
			}
			if err := appInstance.Close(cmd.Context()); err != nil {
				appInstance.Logger().Warn("close application", zap.Error(err))
			}
			_ = appInstance.Logger().Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newServeCmd(), newLookupCmd(), newBatchCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

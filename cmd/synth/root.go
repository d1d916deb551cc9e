package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/synthesis-engine/internal/app"
	"github.com/JakeFAU/synthesis-engine/internal/config"
	"github.com/JakeFAU/synthesis-engine/internal/logging"
)

type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject options.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.Build(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Self-healing ingestion and analysis pipeline for AI research announcements.",
		Long: `synth discovers AI research sources, ingests their announcements, analyzes
them with an LLM and serves the results. Parsers that stop working are
repaired automatically and staged for review.`,
		SilenceUsage: true,

		// Builds the application once the config flag is parsed so that every
		// subcommand shares the same wiring.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
			}
			_ = zap.L().Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars prefixed SYNTH_ override it)")

	cmd.AddCommand(
		newServeCmd(),
		newIngestCmd(),
		newDiscoverCmd(),
		newHealCmd(),
		newProposalsCmd(),
		newSourcesCmd(),
		newMigrateCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

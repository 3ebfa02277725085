package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/datallboy/mediagrab/internal/app"
	"github.com/datallboy/mediagrab/internal/infra/config"
	"github.com/datallboy/mediagrab/internal/infra/logger"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	// Cancelled on Ctrl+C so in-flight work stops and the checkpoint stays
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mediagrab",
		Short:         "Download encrypted HLS streams and images with resumable progress",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")

	root.AddCommand(newDownloadCmd(), newServeCmd(), newHistoryCmd())
	return root
}

// bootstrap loads config and the logger shared by every command
func bootstrap() (*app.Context, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", cfg.Log.Path, err)
	}

	return app.NewContext(cfg, log), nil
}

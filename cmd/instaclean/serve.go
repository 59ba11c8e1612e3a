package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"instaclean/pkg/config"
	"instaclean/pkg/logger"
	"instaclean/pkg/server"
	"instaclean/pkg/task"
	"instaclean/pkg/ui"
)

var (
	serveHost     string
	servePort     int
	serveMaxItems int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web service",
	Long: `Run the HTTP API until interrupted.

On SIGINT or SIGTERM running batches are stopped and open connections are
given a grace period to finish.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "address to listen on")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on (also $PORT)")
	serveCmd.Flags().IntVar(&serveMaxItems, "max-items", 0, "maximum items per batch")
}

func runServe(cmd *cobra.Command, args []string) error {
	flags := globalFlags()
	flags["host"] = serveHost
	flags["port"] = servePort
	flags["max-items"] = serveMaxItems

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()

	ui.PrintBanner()
	ui.PrintInfo("Listening", cfg.Server.Address())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

// serve runs the HTTP server and the expiry sweeps until ctx is done
func serve(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	registry := task.NewMemoryRegistry(cfg.Batch.TaskTTL,
		task.WithLogger(log),
		task.WithMaxItems(max(cfg.Batch.MaxItems, cfg.Batch.MaxLookupItems)))

	srv := server.New(server.Deps{
		Config:   cfg,
		Logger:   log,
		Registry: registry,
	})

	sweeper := task.NewSweeper(cfg.Batch.SweepInterval, log).
		Add("tasks", registry.Sweep).
		Add("sessions", srv.Sweep)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Server stopped with error")
		return err
	}
	log.Info("Server stopped")
	return nil
}

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zgpcy/cloudspend/internal/server"
	"github.com/zgpcy/cloudspend/internal/version"
)

// DefaultShutdownTimeout is the maximum time to wait for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, the task workers and the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd, opts)
		},
	}
}

func serve(ctx context.Context, cmd *cobra.Command, opts *rootOptions) error {
	a, err := opts.wire(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	log := a.Logger
	log.Info("cloudspend starting",
		"version", version.Version,
		"config_path", opts.configPath)
	log.Info("Configuration loaded successfully",
		"accounts", len(a.Config.Accounts),
		"store", a.Config.Store.Driver,
		"http_port", a.Config.HTTPPort,
		"workers", a.Config.Tasks.Workers,
		"billing_interval_seconds", *a.Config.Tasks.BillingInterval,
		"metrics_interval_seconds", *a.Config.Tasks.MetricsInterval,
		"api_timeout_seconds", a.Config.APITimeout)

	a.Queue.Start(ctx)
	defer a.Queue.Stop()

	a.Scheduler.Start(ctx)

	srv := server.NewServer(a.Config, server.Deps{
		Store:    a.Store,
		Accounts: a.Accounts,
		Factory:  a.Factory,
		Gatherer: a.Registry,
	}, log)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	select {
	case err := <-serverErrors:
		log.Error("Server error", "error", err)
		return err

	case <-ctx.Done():
		log.Info("Received shutdown signal, starting graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Error during server shutdown", "error", err)
			return err
		}
		a.Scheduler.Wait()
		log.Info("Server stopped gracefully")
		return nil
	}
}

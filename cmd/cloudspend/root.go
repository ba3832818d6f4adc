package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zgpcy/cloudspend/internal/app"
	"github.com/zgpcy/cloudspend/internal/config"
	"github.com/zgpcy/cloudspend/internal/logger"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "cloudspend",
		Short: "Track spend and instance counts across cloud providers",
		Long: `cloudspend polls the billing APIs of the configured cloud and PaaS accounts,
stores one billing figure per account and month plus instance-count samples,
and exposes them over HTTP and as Prometheus metrics.

Examples:
  cloudspend serve --config config.yaml
  cloudspend providers
  cloudspend run billing prod-aws --config config.yaml`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG"),
		"path to configuration file (env "+config.EnvPrefix+"CONFIG)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newProvidersCmd(),
		newValidateCmd(opts),
		newRunCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// load reads the configuration and builds a logger writing to stderr
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	log := logger.NewWithOutput(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	return cfg, log, nil
}

// wire loads the configuration and builds the application
func (o *rootOptions) wire(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cfg, log, err := o.load(cmd)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log, app.Options{})
}

// Package cmd defines the tumblr-backfill command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tumblr-backfill/internal/app"
	"github.com/JakeFAU/tumblr-backfill/internal/config"
	"github.com/JakeFAU/tumblr-backfill/internal/importer"
	"github.com/JakeFAU/tumblr-backfill/internal/logging"
)

// Runner is the part of app.App the import command drives. Tests replace
// newRunner to avoid network access.
type Runner interface {
	Run(ctx context.Context) (importer.Summary, error)
	RunID() string
	Close()
}

var newRunner = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, logger)
}

type rootOptions struct {
	configFile string
	root       string
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "tumblr-backfill",
		Short: "Import a Tumblr blog's history into a JSON content store.",
		Long: `tumblr-backfill reads a blog through the Tumblr v1 read API, oldest post
first, and writes one JSON entry per post under <root>/.private so entry #1 is
the blog's first post. Photos are downloaded to <root>/static/photos.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.root, "root", "", "output website root for the blog")

	cmd.AddCommand(newImportCmd(opts))
	cmd.AddCommand(newVerifyCmd(opts))
	return cmd
}

// loadConfig reads the config file and applies the shared flags.
func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return config.Config{}, err
	}
	if o.root != "" {
		cfg.Store.Root = o.root
	}
	return cfg, nil
}

func buildLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// Execute runs the CLI and exits non-zero on failure. SIGINT and SIGTERM
// cancel the run between steps.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/tumblr-backfill/internal/app"
	"github.com/JakeFAU/tumblr-backfill/internal/importer"
)

func newVerifyCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check an imported store for missing slug indexes and id gaps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateStore(); err != nil {
				return err
			}
			logger, err := buildLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, err := app.OpenStore(cfg, logger)
			if err != nil {
				return err
			}
			report, err := importer.Verify(cmd.Context(), store)
			problems := multierr.Errors(err)
			for _, p := range problems {
				logger.Error("problem", zap.Error(p))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d entries, highest id %d, %d problems\n",
				report.Entries, report.MaxID, len(problems))
			if err != nil {
				return fmt.Errorf("verify %s: %d problems found", store.Root(), len(problems))
			}
			return nil
		},
	}
}

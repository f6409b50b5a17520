package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tumblr-backfill/internal/config"
)

type importOptions struct {
	noSSL       bool
	skipUnknown bool
	skipVideo   bool
	fresh       bool
}

func newImportCmd(root *rootOptions) *cobra.Command {
	opts := &importOptions{}
	cmd := &cobra.Command{
		Use:   "import <blog>",
		Short: "Import every post of a blog, oldest first",
		Long: `Import crawls the blog in username.tumblr.com format from its oldest post
to its newest. An interrupted import resumes where it stopped unless --fresh
is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			opts.apply(cmd, &cfg, args[0])
			return runImport(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&opts.noSSL, "nossl", false, "don't use SSL when connecting to the tumblr site")
	cmd.Flags().BoolVar(&opts.skipUnknown, "skip-unknown", false, "skip post types without a rendering instead of failing")
	cmd.Flags().BoolVar(&opts.skipVideo, "skip-video", false, "skip video posts instead of writing entries with only the import notice")
	cmd.Flags().BoolVar(&opts.fresh, "fresh", false, "ignore any saved checkpoint and number entries from 1")
	return cmd
}

// apply overrides config values with flags that were set explicitly.
func (o *importOptions) apply(cmd *cobra.Command, cfg *config.Config, blog string) {
	cfg.Source.Blog = blog
	if o.noSSL {
		cfg.Source.Scheme = "http"
	}
	if o.skipUnknown {
		cfg.Import.UnknownPolicy = config.UnknownPolicySkip
	}
	if o.skipVideo {
		cfg.Import.VideoPolicy = config.VideoPolicySkip
	}
	if cmd.Flags().Changed("fresh") {
		cfg.Import.Resume = !o.fresh
	}
}

func runImport(cmd *cobra.Command, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting import", zap.String("blog", cfg.Source.Blog), zap.String("api_root", cfg.APIRoot()))
	runner, err := newRunner(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer runner.Close()

	summary, err := runner.Run(cmd.Context())
	logger.Info("summary",
		zap.String("run_id", runner.RunID()),
		zap.Int("posts_total", summary.PostsTotal),
		zap.Int("written", summary.Written),
		zap.Int("skipped", summary.Skipped),
		zap.Int("videos", summary.Videos),
		zap.Int("images", summary.Images),
		zap.Int("images_localized", summary.Localized),
		zap.Int("last_sequence_id", summary.LastSequenceID),
	)
	return err
}

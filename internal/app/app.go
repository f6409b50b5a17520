// Package app builds the importer and its collaborators from configuration
// and owns their lifetimes.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/tumblr-backfill/internal/assets"
	"github.com/JakeFAU/tumblr-backfill/internal/backfill"
	"github.com/JakeFAU/tumblr-backfill/internal/clock/system"
	"github.com/JakeFAU/tumblr-backfill/internal/config"
	collyfetcher "github.com/JakeFAU/tumblr-backfill/internal/fetcher/colly"
	"github.com/JakeFAU/tumblr-backfill/internal/id/uuid"
	"github.com/JakeFAU/tumblr-backfill/internal/importer"
	"github.com/JakeFAU/tumblr-backfill/internal/jsondb"
	"github.com/JakeFAU/tumblr-backfill/internal/logging"
	"github.com/JakeFAU/tumblr-backfill/internal/metrics"
	"github.com/JakeFAU/tumblr-backfill/internal/normalize"
	"github.com/JakeFAU/tumblr-backfill/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/tumblr-backfill/internal/publisher/pubsub"
	"github.com/JakeFAU/tumblr-backfill/internal/sequencer"
	"github.com/JakeFAU/tumblr-backfill/internal/storage/gcs"
	"github.com/JakeFAU/tumblr-backfill/internal/tumblr"
)

// App holds the services of one import run.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	runID    string
	store    *jsondb.DB
	importer *importer.Importer
	closers  []func()
}

// OpenStore opens the content store under the configured web root.
func OpenStore(cfg config.Config, logger *zap.Logger) (*jsondb.DB, error) {
	store, err := jsondb.New(cfg.PrivateRoot(), logging.Named(logger, "jsondb"))
	if err != nil {
		return nil, fmt.Errorf("open content store: %w", err)
	}
	return store, nil
}

// New validates cfg and wires every service an import needs. Cloud clients
// are only created when their settings are present.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, err
	}
	a.runID = runID

	a.store, err = OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Source.RequestsPerSecond, DefaultBurst: 1})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Source.UserAgent,
		Timeout:      cfg.RequestTimeout(),
		MaxBodyBytes: cfg.Source.MaxBodyBytes,
		Limiter:      limiter,
	})
	logger.Info("http client ready", zap.String("user_agent", fetcher.UserAgent()))

	mirror, err := a.newMirror(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	images, err := assets.NewLocal(fetcher, cfg.AssetRoot(), cfg.Assets.URLPrefix, mirror, logger.Named("assets"))
	if err != nil {
		a.Close()
		return nil, err
	}

	writer, err := sequencer.New(sequencer.Config{
		Blog:   cfg.Source.Blog,
		RunID:  runID,
		Store:  a.store,
		Clock:  system.New(),
		Resume: cfg.Import.Resume,
		// One seen log rewrite per page.
		CompactEvery: cfg.Source.PageSize,
		Logger:       logger.Named("sequencer"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	publisher, err := a.newPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.importer, err = importer.New(importer.Options{
		Blog:          cfg.Source.Blog,
		RunID:         runID,
		PageSize:      cfg.Source.PageSize,
		UnknownPolicy: cfg.Import.UnknownPolicy,
		VideoPolicy:   cfg.Import.VideoPolicy,
		WriteSettings: cfg.Import.WriteSettings,
		Topic:         cfg.Notify.TopicName,
	}, importer.Deps{
		Source:     tumblr.NewClient(fetcher, cfg.APIRoot(), logger.Named("tumblr")),
		Normalizer: normalize.New(cfg.Source.Blog, images, logger.Named("normalize")),
		Writer:     writer,
		Store:      a.store,
		Publisher:  publisher,
		Logger:     logger.Named("importer"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) newMirror(ctx context.Context) (backfill.BlobStore, error) {
	if a.cfg.Assets.GCSBucket == "" {
		return nil, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("close gcs client", zap.Error(err))
		}
	})
	mirror, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Assets.GCSBucket, Prefix: a.cfg.Assets.GCSPrefix})
	if err != nil {
		return nil, err
	}
	a.logger.Info("mirroring assets to gcs", zap.String("bucket", a.cfg.Assets.GCSBucket))
	return mirror, nil
}

func (a *App) newPublisher(ctx context.Context) (backfill.Publisher, error) {
	if a.cfg.Notify.TopicName == "" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.Notify.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client)
	a.closers = append(a.closers, func() {
		pub.Close()
		if err := client.Close(); err != nil {
			a.logger.Warn("close pubsub client", zap.Error(err))
		}
	})
	a.logger.Info("publishing entry events", zap.String("topic", a.cfg.Notify.TopicName))
	return pub, nil
}

// RunID identifies this run in checkpoints and events.
func (a *App) RunID() string {
	return a.runID
}

// Store exposes the content store.
func (a *App) Store() *jsondb.DB {
	return a.store
}

// Run performs the import and exports metrics when configured. Metrics are
// written even when the import fails.
func (a *App) Run(ctx context.Context) (importer.Summary, error) {
	summary, err := a.importer.Run(ctx)
	if path := a.cfg.Metrics.Textfile; path != "" {
		if mErr := metrics.WriteTextfile(path); mErr != nil {
			a.logger.Warn("metrics export failed", zap.Error(mErr))
		}
	}
	return summary, err
}

// Close releases cloud clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

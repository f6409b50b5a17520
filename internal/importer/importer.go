// Package importer runs a one-shot backfill of a blog into the content store.
package importer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tumblr-backfill/internal/backfill"
	"github.com/JakeFAU/tumblr-backfill/internal/config"
	"github.com/JakeFAU/tumblr-backfill/internal/jsondb"
	"github.com/JakeFAU/tumblr-backfill/internal/metrics"
	"github.com/JakeFAU/tumblr-backfill/internal/normalize"
	"github.com/JakeFAU/tumblr-backfill/internal/tumblr"
	"github.com/JakeFAU/tumblr-backfill/internal/walker"
)

// SettingsDocument holds site-wide settings in the content store.
const SettingsDocument = "app/settings"

// ErrRootUnavailable is returned when the collection root cannot be read.
var ErrRootUnavailable = errors.New("collection root unavailable")

// Source reads the remote collection.
type Source interface {
	walker.PageSource
	Root(ctx context.Context) (tumblr.Page, error)
}

// Normalizer renders a post into a draft.
type Normalizer interface {
	Normalize(ctx context.Context, post tumblr.Post) (backfill.Draft, error)
}

// Writer persists drafts under gapless sequence IDs.
type Writer interface {
	Resume(ctx context.Context) ([]int64, error)
	Write(ctx context.Context, draft backfill.Draft) (backfill.Entry, error)
	Skip(ctx context.Context, sourceID int64) error
	LastID() int
}

// Options are the run policies.
type Options struct {
	Blog          string
	RunID         string
	PageSize      int
	UnknownPolicy string
	VideoPolicy   string
	WriteSettings bool
	// Topic receives an EntryImported event per entry when a Publisher is set.
	Topic string
}

// Deps are the collaborators of a run. Publisher is optional.
type Deps struct {
	Source     Source
	Normalizer Normalizer
	Writer     Writer
	Store      backfill.DocumentStore
	Publisher  backfill.Publisher
	Logger     *zap.Logger
}

// Summary reports what a run did.
type Summary struct {
	RunID          string
	Blog           string
	Title          string
	PostsTotal     int
	Pages          int
	Written        int
	Skipped        int
	Videos         int
	Unknown        int
	Duplicates     int
	Images         int
	Localized      int
	LastSequenceID int
}

// Importer wires the walker, normalizer and writer together.
type Importer struct {
	opts    Options
	deps    Deps
	logger  *zap.Logger
	summary Summary
}

// New validates deps and builds an Importer.
func New(opts Options, deps Deps) (*Importer, error) {
	if deps.Source == nil || deps.Normalizer == nil || deps.Writer == nil {
		return nil, errors.New("source, normalizer and writer are required")
	}
	if opts.WriteSettings && deps.Store == nil {
		return nil, errors.New("a document store is required to write settings")
	}
	if opts.UnknownPolicy == "" {
		opts.UnknownPolicy = config.UnknownPolicyFail
	}
	if opts.VideoPolicy == "" {
		opts.VideoPolicy = config.VideoPolicyKeep
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		opts:   opts,
		deps:   deps,
		logger: logger.With(zap.String("blog", opts.Blog), zap.String("run_id", opts.RunID)),
	}, nil
}

// Run performs the import. The returned Summary is valid even on error and
// describes the work completed before the failure.
func (i *Importer) Run(ctx context.Context) (Summary, error) {
	i.summary = Summary{RunID: i.opts.RunID, Blog: i.opts.Blog}

	root, err := i.deps.Source.Root(ctx)
	if err != nil {
		return i.summary, fmt.Errorf("%w: %w", ErrRootUnavailable, err)
	}
	i.summary.Title = root.Tumblelog.Title
	i.summary.PostsTotal = int(root.PostsTotal)
	i.logger.Info("blog found",
		zap.String("title", root.Tumblelog.Title),
		zap.String("description", root.Tumblelog.Description),
		zap.Int64("posts_total", root.PostsTotal),
	)

	if i.opts.WriteSettings {
		if err := i.writeSettings(ctx, root.Tumblelog); err != nil {
			return i.summary, err
		}
	}

	seen, err := i.deps.Writer.Resume(ctx)
	if err != nil {
		return i.summary, err
	}
	i.summary.LastSequenceID = i.deps.Writer.LastID()

	w := walker.New(i.deps.Source, i.opts.PageSize, backfill.NewSeenSet(seen...), i.logger.Named("walker"))
	err = w.Walk(ctx, int(root.PostsTotal), i.handle)
	stats := w.Stats()
	i.summary.Pages = stats.Pages
	i.summary.Duplicates = stats.Duplicates
	if err != nil {
		return i.summary, fmt.Errorf("walk: %w", err)
	}

	i.logger.Info("import complete",
		zap.Int("written", i.summary.Written),
		zap.Int("skipped", i.summary.Skipped),
		zap.Int("sequence_id", i.summary.LastSequenceID),
	)
	return i.summary, nil
}

func (i *Importer) handle(ctx context.Context, post tumblr.Post) error {
	logger := i.logger.With(zap.Int64("source_id", post.ID), zap.String("type", post.Type))

	draft, err := i.deps.Normalizer.Normalize(ctx, post)
	var unknown *normalize.UnknownTypeError
	switch {
	case errors.As(err, &unknown):
		i.summary.Unknown++
		if i.opts.UnknownPolicy != config.UnknownPolicySkip {
			metrics.ObservePost(post.Type, metrics.OutcomeFailed)
			return err
		}
		logger.Warn("skipping unsupported post type", zap.ByteString("raw", unknown.Raw))
		return i.skip(ctx, post)
	case err != nil:
		metrics.ObservePost(post.Type, metrics.OutcomeFailed)
		return err
	}

	if draft.Unsupported {
		i.summary.Videos++
		if i.opts.VideoPolicy == config.VideoPolicySkip {
			logger.Warn("skipping video post")
			return i.skip(ctx, post)
		}
	}

	entry, err := i.deps.Writer.Write(ctx, draft)
	if err != nil {
		metrics.ObservePost(post.Type, metrics.OutcomeFailed)
		return err
	}
	metrics.ObservePost(post.Type, metrics.OutcomeImported)
	i.summary.Written++
	i.summary.Images += draft.Images
	i.summary.Localized += draft.Localized
	i.summary.LastSequenceID = entry.ID

	i.publish(ctx, post, entry)
	return nil
}

func (i *Importer) skip(ctx context.Context, post tumblr.Post) error {
	if err := i.deps.Writer.Skip(ctx, post.ID); err != nil {
		return err
	}
	metrics.ObservePost(post.Type, metrics.OutcomeSkipped)
	i.summary.Skipped++
	return nil
}

func (i *Importer) publish(ctx context.Context, post tumblr.Post, entry backfill.Entry) {
	if i.deps.Publisher == nil || i.opts.Topic == "" {
		return
	}
	event := backfill.EntryImported{
		RunID:      i.opts.RunID,
		Blog:       i.opts.Blog,
		SourceID:   post.ID,
		SequenceID: entry.ID,
		Slug:       entry.Fragment,
		Type:       post.Type,
		Created:    entry.Created,
	}
	if _, err := i.deps.Publisher.Publish(ctx, i.opts.Topic, event); err != nil {
		i.logger.Warn("publish entry event failed", zap.Int("sequence_id", entry.ID), zap.Error(err))
	}
}

// writeSettings merges the blog title and description into the settings
// document, keeping any other keys already present.
func (i *Importer) writeSettings(ctx context.Context, blog tumblr.Tumblelog) error {
	settings := map[string]any{}
	if err := i.deps.Store.Get(ctx, SettingsDocument, &settings); err != nil && !errors.Is(err, jsondb.ErrNotFound) {
		return fmt.Errorf("read settings: %w", err)
	}
	site, _ := settings["site"].(map[string]any)
	if site == nil {
		site = map[string]any{}
	}
	site["title"] = blog.Title
	site["description"] = blog.Description
	settings["site"] = site
	if err := i.deps.Store.Commit(ctx, SettingsDocument, settings); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

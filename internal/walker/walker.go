// Package walker pages through a blog from its oldest posts to its newest.
//
// The v1 API numbers posts from the newest (start=0), so the walker begins
// with the window at the tail of the collection, reverses every page, and
// moves the window toward zero. Windows may overlap when the collection
// shifts during a run; the seen set keeps each post to a single emit.
package walker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tumblr-backfill/internal/backfill"
	"github.com/JakeFAU/tumblr-backfill/internal/metrics"
	"github.com/JakeFAU/tumblr-backfill/internal/tumblr"
)

// DefaultPageSize is the largest page the v1 API serves.
const DefaultPageSize = 50

// PageSource fetches one window of posts, newest first.
type PageSource interface {
	Page(ctx context.Context, start, num int) (tumblr.Page, error)
}

// EmitFunc receives each new post in oldest-to-newest order.
type EmitFunc func(ctx context.Context, post tumblr.Post) error

// Stats summarizes a walk.
type Stats struct {
	Pages      int
	Emitted    int
	Duplicates int
}

// Walker drives the page loop.
type Walker struct {
	source   PageSource
	pageSize int
	seen     *backfill.SeenSet
	logger   *zap.Logger
	stats    Stats
}

// New builds a Walker. A nil seen set starts empty; pageSize outside 1..50
// falls back to DefaultPageSize.
func New(source PageSource, pageSize int, seen *backfill.SeenSet, logger *zap.Logger) *Walker {
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}
	if seen == nil {
		seen = backfill.NewSeenSet()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{source: source, pageSize: pageSize, seen: seen, logger: logger}
}

// Seen exposes the set of handled source IDs.
func (w *Walker) Seen() *backfill.SeenSet {
	return w.seen
}

// Stats returns counters for the walk so far.
func (w *Walker) Stats() Stats {
	return w.stats
}

// Walk visits every post of a collection holding total posts. The first page
// or emit error aborts the walk.
func (w *Walker) Walk(ctx context.Context, total int, emit EmitFunc) error {
	if total <= 0 {
		w.logger.Info("collection is empty")
		return nil
	}

	start := max(0, total-w.pageSize)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("window %d: %w", start, err)
		}
		if err := w.walkWindow(ctx, start, emit); err != nil {
			return fmt.Errorf("window %d: %w", start, err)
		}
		if start == 0 {
			return nil
		}
		start = max(0, start-w.pageSize)
	}
}

func (w *Walker) walkWindow(ctx context.Context, start int, emit EmitFunc) error {
	w.logger.Info("get page", zap.Int("window_start", start), zap.Int("num", w.pageSize))
	page, err := w.source.Page(ctx, start, w.pageSize)
	if err != nil {
		metrics.ObservePage(metrics.PageError)
		return err
	}
	metrics.ObservePage(metrics.PageOK)
	w.stats.Pages++

	for i := len(page.Posts) - 1; i >= 0; i-- {
		post := page.Posts[i]
		if !w.seen.Add(post.ID) {
			w.stats.Duplicates++
			continue
		}
		w.logger.Debug("post",
			zap.Int64("source_id", post.ID),
			zap.String("type", post.Type),
			zap.String("date_gmt", post.DateGMT),
		)
		w.stats.Emitted++
		if err := emit(ctx, post); err != nil {
			return err
		}
	}
	return nil
}

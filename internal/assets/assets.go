// Package assets downloads post images into the site's asset directory and
// rewrites them to local references.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/tumblr-backfill/internal/backfill"
	"github.com/JakeFAU/tumblr-backfill/internal/metrics"
	"github.com/JakeFAU/tumblr-backfill/internal/storage/local"
)

// Store is where localized files live, keyed by file name.
type Store interface {
	backfill.BlobStore
	Exists(ctx context.Context, name string) (bool, error)
}

// Config wires a Fetcher.
type Config struct {
	HTTP  backfill.Fetcher
	Store Store
	// Mirror, when set, receives a copy of every freshly downloaded file.
	Mirror backfill.BlobStore
	// URLPrefix is the public path the asset directory is served under.
	URLPrefix string
	Logger    *zap.Logger
}

// Fetcher localizes image URLs.
type Fetcher struct {
	http   backfill.Fetcher
	store  Store
	mirror backfill.BlobStore
	prefix string
	logger *zap.Logger
}

// New builds a Fetcher over an existing store.
func New(cfg Config) (*Fetcher, error) {
	if cfg.HTTP == nil {
		return nil, fmt.Errorf("http fetcher is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("asset store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		http:   cfg.HTTP,
		store:  cfg.Store,
		mirror: cfg.Mirror,
		prefix: strings.TrimSuffix(cfg.URLPrefix, "/"),
		logger: logger,
	}, nil
}

// NewLocal builds a Fetcher writing into dir, creating it if needed.
func NewLocal(fetcher backfill.Fetcher, dir, urlPrefix string, mirror backfill.BlobStore, logger *zap.Logger) (*Fetcher, error) {
	store, err := local.New(local.Config{BaseDir: dir})
	if err != nil {
		return nil, fmt.Errorf("prepare asset directory: %w", err)
	}
	return New(Config{HTTP: fetcher, Store: store, Mirror: mirror, URLPrefix: urlPrefix, Logger: logger})
}

// Fetch returns one reference per input URL, in order. A URL whose file is
// already present is not downloaded again. A URL that cannot be localized is
// returned unchanged. The only error is context cancellation.
func (f *Fetcher) Fetch(ctx context.Context, urls []string) ([]string, error) {
	refs := make([]string, 0, len(urls))
	for _, raw := range urls {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch images: %w", err)
		}
		refs = append(refs, f.localize(ctx, raw))
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch images: %w", err)
	}
	return refs, nil
}

// IsLocal reports whether ref points into the asset directory.
func (f *Fetcher) IsLocal(ref string) bool {
	return strings.HasPrefix(ref, f.prefix+"/")
}

func (f *Fetcher) localize(ctx context.Context, raw string) string {
	name := FileName(raw)
	if name == "" {
		if raw != "" {
			f.logger.Warn("image url has no file name", zap.String("url", raw))
			metrics.ObserveImage(metrics.OutcomeFallback, 0)
		}
		return raw
	}
	ref := f.prefix + "/" + name

	exists, err := f.store.Exists(ctx, name)
	if err != nil {
		f.logger.Warn("asset lookup failed", zap.String("file", name), zap.Error(err))
	}
	if exists {
		metrics.ObserveImage(metrics.OutcomeCached, 0)
		return ref
	}

	f.logger.Info("download", zap.String("url", raw))
	resp, err := f.http.Fetch(ctx, backfill.FetchRequest{URL: raw})
	if err != nil {
		f.logger.Warn("image download failed", zap.String("url", raw), zap.Error(err))
		metrics.ObserveImage(metrics.OutcomeFallback, 0)
		return raw
	}
	contentType := resp.Headers.Get("Content-Type")
	if _, err := f.store.PutObject(ctx, name, contentType, bytes.NewReader(resp.Body)); err != nil {
		f.logger.Warn("image write failed", zap.String("file", name), zap.Error(err))
		metrics.ObserveImage(metrics.OutcomeFallback, 0)
		return raw
	}
	metrics.ObserveImage(metrics.OutcomeLocalized, len(resp.Body))

	if f.mirror != nil {
		uri, err := f.mirror.PutObject(ctx, name, contentType, bytes.NewReader(resp.Body))
		if err != nil {
			f.logger.Warn("asset mirror failed", zap.String("file", name), zap.Error(err))
		} else {
			f.logger.Debug("asset mirrored", zap.String("uri", uri))
		}
	}
	return ref
}

// FileName returns the final path segment of rawURL, or "" when there is none.
func FileName(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	switch name {
	case ".", "/", "..":
		return ""
	}
	return name
}

// Package sequencer assigns gapless sequence IDs to drafts and persists the
// resulting entries, their slug index documents and the import checkpoint.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tumblr-backfill/internal/backfill"
	"github.com/JakeFAU/tumblr-backfill/internal/clock/system"
	"github.com/JakeFAU/tumblr-backfill/internal/jsondb"
	"github.com/JakeFAU/tumblr-backfill/internal/metrics"
)

// Document layout inside the content store.
const (
	PostsPrefix      = "blog/posts"
	FragmentsPrefix  = "blog/fragments"
	CheckpointPrefix = "blog/import"
)

// PostDocument returns the document path for entry id.
func PostDocument(id int) string {
	return PostsPrefix + "/" + strconv.Itoa(id)
}

// FragmentDocument returns the slug index document path for slug.
func FragmentDocument(slug string) string {
	return FragmentsPrefix + "/" + slug
}

// CheckpointDocument returns the checkpoint document path for blog.
func CheckpointDocument(blog string) string {
	return CheckpointPrefix + "/" + blog
}

// SeenDocument returns the path of the compacted seen log for blog.
func SeenDocument(blog string) string {
	return CheckpointPrefix + "/" + blog + "-seen"
}

// DefaultCompactEvery is how many handled posts accumulate in the checkpoint
// before they are folded into the seen log.
const DefaultCompactEvery = 50

// Checkpoint records import progress so an interrupted run can continue. It is
// rewritten after every entry, so it only carries the source IDs handled since
// the seen log was last compacted.
type Checkpoint struct {
	Blog           string    `json:"blog"`
	RunID          string    `json:"runId"`
	LastSequenceID int       `json:"lastSequenceId"`
	Recent         []int64   `json:"recent"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// SeenLog holds the source IDs folded out of the checkpoint.
type SeenLog struct {
	Blog string  `json:"blog"`
	IDs  []int64 `json:"ids"`
}

// Progress is a checkpoint merged with its seen log.
type Progress struct {
	Checkpoint
	Seen []int64
}

// LoadProgress reads the checkpoint and seen log of blog. It returns an error
// wrapping jsondb.ErrNotFound when no checkpoint exists.
func LoadProgress(ctx context.Context, store backfill.DocumentStore, blog string) (Progress, error) {
	var p Progress
	if err := store.Get(ctx, CheckpointDocument(blog), &p.Checkpoint); err != nil {
		return Progress{}, fmt.Errorf("load checkpoint: %w", err)
	}
	var log SeenLog
	err := store.Get(ctx, SeenDocument(blog), &log)
	if err != nil && !errors.Is(err, jsondb.ErrNotFound) {
		return Progress{}, fmt.Errorf("load seen log: %w", err)
	}
	p.Seen = backfill.NewSeenSet(append(log.IDs, p.Recent...)...).IDs()
	return p, nil
}

// StaleFragmentError reports an entry slot that already holds another slug
// whose index could not be removed.
type StaleFragmentError struct {
	ID       int
	Fragment string
	Err      error
}

func (e *StaleFragmentError) Error() string {
	return fmt.Sprintf("entry %d: remove stale slug index %q: %v", e.ID, e.Fragment, e.Err)
}

func (e *StaleFragmentError) Unwrap() error {
	return e.Err
}

// SlugCollisionError reports a slug already indexed to another entry.
type SlugCollisionError struct {
	Slug       string
	ExistingID int
	SourceID   int64
}

func (e *SlugCollisionError) Error() string {
	return fmt.Sprintf("slug %q of source post %d is already used by entry %d", e.Slug, e.SourceID, e.ExistingID)
}

// Config wires a Writer.
type Config struct {
	Blog  string
	RunID string
	Store backfill.DocumentStore
	Clock backfill.Clock
	// Resume loads an existing checkpoint; otherwise numbering restarts at 1.
	Resume bool
	// CompactEvery defaults to DefaultCompactEvery.
	CompactEvery int
	Logger       *zap.Logger
}

// Writer is the single writer of entries for one import run.
type Writer struct {
	blog    string
	runID   string
	store   backfill.DocumentStore
	clock   backfill.Clock
	resume  bool
	logger  *zap.Logger
	counter int
	seen    *backfill.SeenSet
	recent  []int64
	every   int
	// logged is set once the seen log on disk belongs to this run's history.
	logged bool
}

// New builds a Writer.
func New(cfg Config) (*Writer, error) {
	if cfg.Blog == "" {
		return nil, errors.New("blog is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("document store is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = system.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	every := cfg.CompactEvery
	if every <= 0 {
		every = DefaultCompactEvery
	}
	return &Writer{
		every:  every,
		blog:   cfg.Blog,
		runID:  cfg.RunID,
		store:  cfg.Store,
		clock:  clock,
		resume: cfg.Resume,
		logger: logger,
		seen:   backfill.NewSeenSet(),
	}, nil
}

// Resume loads the checkpoint, if resuming is enabled and one exists, and
// returns the source IDs it had already handled.
func (w *Writer) Resume(ctx context.Context) ([]int64, error) {
	if !w.resume {
		return nil, nil
	}
	cp, err := LoadProgress(ctx, w.store, w.blog)
	if errors.Is(err, jsondb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.counter = cp.LastSequenceID
	w.seen = backfill.NewSeenSet(cp.Seen...)
	w.recent = append([]int64(nil), cp.Recent...)
	w.logged = true
	w.logger.Info("resuming import",
		zap.String("previous_run_id", cp.RunID),
		zap.Int("sequence_id", cp.LastSequenceID),
		zap.Int("seen", w.seen.Len()),
	)
	metrics.SetLastSequenceID(w.counter)
	return w.seen.IDs(), nil
}

// LastID returns the most recently assigned sequence ID.
func (w *Writer) LastID() int {
	return w.counter
}

// Write assigns the next sequence ID to draft and persists the entry, its slug
// index and the checkpoint. The counter only advances once all three are stored.
func (w *Writer) Write(ctx context.Context, draft backfill.Draft) (backfill.Entry, error) {
	id := w.counter + 1
	entry := backfill.NewEntry(id, draft)

	if err := w.claimSlug(ctx, draft, id); err != nil {
		return backfill.Entry{}, err
	}
	if err := w.releaseSlot(ctx, draft, id); err != nil {
		return backfill.Entry{}, err
	}
	if err := w.store.Commit(ctx, PostDocument(id), entry); err != nil {
		return backfill.Entry{}, fmt.Errorf("write entry %d: %w", id, err)
	}
	if err := w.store.Commit(ctx, FragmentDocument(draft.Slug), backfill.SlugIndex{ID: id}); err != nil {
		return backfill.Entry{}, fmt.Errorf("write slug index %q: %w", draft.Slug, err)
	}

	if err := w.record(ctx, draft.SourceID, id); err != nil {
		return backfill.Entry{}, err
	}
	w.counter = id
	metrics.SetLastSequenceID(id)

	w.logger.Info("entry written",
		zap.Int("sequence_id", id),
		zap.Int64("source_id", draft.SourceID),
		zap.String("slug", draft.Slug),
	)
	return entry, nil
}

// Skip records sourceID as handled without consuming a sequence ID.
func (w *Writer) Skip(ctx context.Context, sourceID int64) error {
	return w.record(ctx, sourceID, w.counter)
}

// claimSlug fails when slug is indexed to an entry other than id. An index
// already pointing at id is a replay of an interrupted write.
func (w *Writer) claimSlug(ctx context.Context, draft backfill.Draft, id int) error {
	var existing backfill.SlugIndex
	err := w.store.Get(ctx, FragmentDocument(draft.Slug), &existing)
	switch {
	case errors.Is(err, jsondb.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("read slug index %q: %w", draft.Slug, err)
	case existing.ID == id:
		return nil
	default:
		return &SlugCollisionError{Slug: draft.Slug, ExistingID: existing.ID, SourceID: draft.SourceID}
	}
}

// releaseSlot removes the slug index of whatever entry previously occupied id
// under a different slug, so a rewritten slot never leaves a dangling index.
func (w *Writer) releaseSlot(ctx context.Context, draft backfill.Draft, id int) error {
	var previous backfill.Entry
	err := w.store.Get(ctx, PostDocument(id), &previous)
	switch {
	case errors.Is(err, jsondb.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("read entry %d: %w", id, err)
	case previous.Fragment == "" || previous.Fragment == draft.Slug:
		return nil
	}

	var idx backfill.SlugIndex
	err = w.store.Get(ctx, FragmentDocument(previous.Fragment), &idx)
	switch {
	case errors.Is(err, jsondb.ErrNotFound):
		return nil
	case err != nil:
		return &StaleFragmentError{ID: id, Fragment: previous.Fragment, Err: err}
	case idx.ID != id:
		return nil
	}
	if err := w.store.Delete(ctx, FragmentDocument(previous.Fragment)); err != nil {
		return &StaleFragmentError{ID: id, Fragment: previous.Fragment, Err: err}
	}
	w.logger.Info("removed stale slug index",
		zap.Int("sequence_id", id),
		zap.String("slug", previous.Fragment),
	)
	return nil
}

// record marks sourceID handled and persists the checkpoint. The seen log is
// rewritten once every CompactEvery posts, and on the first post of a run that
// did not resume, which replaces any log left by an earlier import.
func (w *Writer) record(ctx context.Context, sourceID int64, lastID int) error {
	w.seen.Add(sourceID)
	w.recent = append(w.recent, sourceID)
	if !w.logged || len(w.recent) >= w.every {
		log := SeenLog{Blog: w.blog, IDs: w.seen.IDs()}
		if err := w.store.Commit(ctx, SeenDocument(w.blog), log); err != nil {
			return fmt.Errorf("write seen log: %w", err)
		}
		w.logged = true
		w.recent = nil
	}

	cp := Checkpoint{
		Blog:           w.blog,
		RunID:          w.runID,
		LastSequenceID: lastID,
		Recent:         append([]int64{}, w.recent...),
		UpdatedAt:      w.clock.Now().UTC(),
	}
	if err := w.store.Commit(ctx, CheckpointDocument(w.blog), cp); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

package importer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"github.com/JakeFAU/tumblr-backfill/internal/backfill"
	"github.com/JakeFAU/tumblr-backfill/internal/jsondb"
	"github.com/JakeFAU/tumblr-backfill/internal/sequencer"
)

// Report summarizes a store check.
type Report struct {
	Entries int
	MaxID   int
}

// Verify checks that every stored entry is reachable through its slug index,
// that every slug index names an entry carrying that slug, and that entry IDs
// run from 1 without gaps. Every problem found is
// returned, combined with multierr.
func Verify(ctx context.Context, store backfill.DocumentStore) (Report, error) {
	docs, err := store.List(ctx, sequencer.PostsPrefix)
	if err != nil {
		return Report{}, fmt.Errorf("list entries: %w", err)
	}

	var (
		problems error
		ids      []int
	)
	for _, doc := range docs {
		name := path.Base(doc)
		id, convErr := strconv.Atoi(name)
		if convErr != nil || id <= 0 {
			problems = multierr.Append(problems, fmt.Errorf("%s: not a sequence id", doc))
			continue
		}

		var entry backfill.Entry
		if err := store.Get(ctx, doc, &entry); err != nil {
			problems = multierr.Append(problems, fmt.Errorf("%s: %w", doc, err))
			continue
		}
		ids = append(ids, id)
		if entry.ID != id {
			problems = multierr.Append(problems, fmt.Errorf("%s: stored id %d does not match", doc, entry.ID))
		}
		if entry.Fragment == "" {
			problems = multierr.Append(problems, fmt.Errorf("%s: empty fragment", doc))
			continue
		}

		var idx backfill.SlugIndex
		if err := store.Get(ctx, sequencer.FragmentDocument(entry.Fragment), &idx); err != nil {
			problems = multierr.Append(problems, fmt.Errorf("%s: fragment %q: %w", doc, entry.Fragment, err))
			continue
		}
		if idx.ID != id {
			problems = multierr.Append(problems,
				fmt.Errorf("%s: fragment %q points at entry %d", doc, entry.Fragment, idx.ID))
		}
	}

	problems = multierr.Append(problems, verifyIndexes(ctx, store))

	sort.Ints(ids)
	for i, id := range ids {
		if want := i + 1; id != want {
			problems = multierr.Append(problems, fmt.Errorf("sequence gap: expected entry %d, found %d", want, id))
			break
		}
	}

	report := Report{Entries: len(ids)}
	if len(ids) > 0 {
		report.MaxID = ids[len(ids)-1]
	}
	return report, problems
}

// verifyIndexes walks the slug indexes and flags any whose target entry is
// missing or stored under another slug.
func verifyIndexes(ctx context.Context, store backfill.DocumentStore) error {
	docs, err := store.List(ctx, sequencer.FragmentsPrefix)
	if err != nil {
		return fmt.Errorf("list slug indexes: %w", err)
	}

	var problems error
	for _, doc := range docs {
		slug := strings.TrimPrefix(doc, sequencer.FragmentsPrefix+"/")
		var idx backfill.SlugIndex
		if err := store.Get(ctx, doc, &idx); err != nil {
			problems = multierr.Append(problems, fmt.Errorf("%s: %w", doc, err))
			continue
		}
		var entry backfill.Entry
		err := store.Get(ctx, sequencer.PostDocument(idx.ID), &entry)
		switch {
		case errors.Is(err, jsondb.ErrNotFound):
			problems = multierr.Append(problems, fmt.Errorf("slug index %q points at missing entry %d", slug, idx.ID))
		case err != nil:
			problems = multierr.Append(problems, fmt.Errorf("%s: entry %d: %w", doc, idx.ID, err))
		case entry.Fragment != slug:
			problems = multierr.Append(problems,
				fmt.Errorf("slug index %q points at entry %d whose fragment is %q", slug, idx.ID, entry.Fragment))
		}
	}
	return problems
}

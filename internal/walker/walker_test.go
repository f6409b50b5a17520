package walker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tumblr-backfill/internal/backfill"
	"github.com/JakeFAU/tumblr-backfill/internal/tumblr"
)

// fakeSource serves posts newest first, the way the API numbers them.
type fakeSource struct {
	posts     []tumblr.Post
	calls     [][2]int
	afterPage func(s *fakeSource)
	failAt    int
}

func newFakeSource(total int) *fakeSource {
	s := &fakeSource{failAt: -1}
	for i := 0; i < total; i++ {
		s.posts = append(s.posts, tumblr.Post{ID: int64(total - i), Type: tumblr.TypeRegular})
	}
	return s
}

func (s *fakeSource) Page(_ context.Context, start, num int) (tumblr.Page, error) {
	s.calls = append(s.calls, [2]int{start, num})
	if start == s.failAt {
		return tumblr.Page{}, errors.New("page unavailable")
	}
	end := min(len(s.posts), start+num)
	var page tumblr.Page
	if start < end {
		page.Posts = append([]tumblr.Post(nil), s.posts[start:end]...)
	}
	if s.afterPage != nil {
		s.afterPage(s)
	}
	return page, nil
}

func collect(ids *[]int64) EmitFunc {
	return func(_ context.Context, post tumblr.Post) error {
		*ids = append(*ids, post.ID)
		return nil
	}
}

func sequence(from, to int64) []int64 {
	var out []int64
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestWalkOldestToNewestWithOverlap(t *testing.T) {
	t.Parallel()

	src := newFakeSource(120)
	w := New(src, 50, nil, nil)

	var ids []int64
	require.NoError(t, w.Walk(context.Background(), 120, collect(&ids)))

	require.Equal(t, sequence(1, 120), ids)
	require.Equal(t, [][2]int{{70, 50}, {20, 50}, {0, 50}}, src.calls)
	require.Equal(t, Stats{Pages: 3, Emitted: 120, Duplicates: 30}, w.Stats())
	require.Equal(t, 120, w.Seen().Len())
}

func TestWalkShiftingCollectionEmitsOnce(t *testing.T) {
	t.Parallel()

	src := newFakeSource(120)
	// The newest post disappears after the first page, shifting every later
	// window by one toward the tail.
	src.afterPage = func(s *fakeSource) {
		if len(s.calls) == 1 {
			s.posts = s.posts[1:]
		}
	}
	w := New(src, 50, nil, nil)

	var ids []int64
	require.NoError(t, w.Walk(context.Background(), 120, collect(&ids)))
	require.Equal(t, sequence(1, 119), ids)
}

func TestWalkSmallCollection(t *testing.T) {
	t.Parallel()

	src := newFakeSource(30)
	w := New(src, 50, nil, nil)

	var ids []int64
	require.NoError(t, w.Walk(context.Background(), 30, collect(&ids)))
	require.Equal(t, sequence(1, 30), ids)
	require.Equal(t, [][2]int{{0, 50}}, src.calls)
}

func TestWalkEmptyCollection(t *testing.T) {
	t.Parallel()

	src := newFakeSource(0)
	w := New(src, 50, nil, nil)
	require.NoError(t, w.Walk(context.Background(), 0, collect(new([]int64))))
	require.Empty(t, src.calls)
}

func TestWalkSkipsSeededIDs(t *testing.T) {
	t.Parallel()

	src := newFakeSource(10)
	w := New(src, 4, backfill.NewSeenSet(1, 2, 3), nil)

	var ids []int64
	require.NoError(t, w.Walk(context.Background(), 10, collect(&ids)))
	require.Equal(t, sequence(4, 10), ids)
	require.Equal(t, [][2]int{{6, 4}, {2, 4}, {0, 4}}, src.calls)
}

func TestWalkClampsPageSize(t *testing.T) {
	t.Parallel()

	src := newFakeSource(120)
	w := New(src, 500, nil, nil)
	require.NoError(t, w.Walk(context.Background(), 120, collect(new([]int64))))
	require.Equal(t, 50, src.calls[0][1])
}

func TestWalkPageErrorAborts(t *testing.T) {
	t.Parallel()

	src := newFakeSource(120)
	src.failAt = 20
	w := New(src, 50, nil, nil)

	var ids []int64
	err := w.Walk(context.Background(), 120, collect(&ids))
	require.ErrorContains(t, err, "window 20")
	require.Equal(t, sequence(1, 50), ids)
}

func TestWalkEmitErrorAborts(t *testing.T) {
	t.Parallel()

	src := newFakeSource(10)
	w := New(src, 50, nil, nil)
	boom := errors.New("boom")

	calls := 0
	err := w.Walk(context.Background(), 10, func(_ context.Context, _ tumblr.Post) error {
		calls++
		if calls == 3 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, calls)
}

func TestWalkCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := newFakeSource(10)
	err := New(src, 50, nil, nil).Walk(ctx, 10, collect(new([]int64)))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, src.calls)
}

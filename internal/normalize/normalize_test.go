package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tumblr-backfill/internal/resolution"
	"github.com/JakeFAU/tumblr-backfill/internal/tumblr"
)

const blog = "example.tumblr.com"

type fakeImages struct {
	calls [][]string
	err   error
}

func (f *fakeImages) Fetch(_ context.Context, urls []string) ([]string, error) {
	f.calls = append(f.calls, urls)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]string, len(urls))
	for i, u := range urls {
		if strings.Contains(u, "remote") {
			out[i] = u
			continue
		}
		out[i] = "/static/photos/" + path.Base(u)
	}
	return out, nil
}

func (f *fakeImages) IsLocal(ref string) bool {
	return strings.HasPrefix(ref, "/static/photos/")
}

func TestNormalizePhoto(t *testing.T) {
	t.Parallel()

	images := &fakeImages{}
	n := New(blog, images, nil)
	post := tumblr.Post{
		ID:        1,
		Type:      tumblr.TypePhoto,
		NoteCount: 3,
		Payload: tumblr.Photo{
			Caption:    "Hi",
			Candidates: resolution.Candidates{500: "https://x/tumblr_123.jpg"},
		},
	}

	draft, err := n.Normalize(context.Background(), post)
	require.NoError(t, err)

	img := strings.Index(draft.Body, `<img src="/static/photos/tumblr_123.jpg">`)
	hi := strings.Index(draft.Body, "Hi")
	require.GreaterOrEqual(t, img, 0)
	require.Greater(t, hi, img)
	require.True(t, strings.HasPrefix(draft.Body, `<p><img src="/static/photos/tumblr_123.jpg"></p>`+"\n\n\nHi"))
	require.Equal(t, 1, draft.Images)
	require.Equal(t, 1, draft.Localized)
	require.Empty(t, draft.Title)
}

func TestNormalizePhotosetPicksBestPerMember(t *testing.T) {
	t.Parallel()

	images := &fakeImages{}
	n := New(blog, images, nil)
	post := tumblr.Post{
		ID:   2,
		Type: tumblr.TypePhoto,
		Payload: tumblr.Photo{
			Candidates: resolution.Candidates{100: "https://x/a_100.jpg", 1280: "https://x/a_1280.jpg"},
			Photos: []resolution.Candidates{
				{400: "https://x/b_400.jpg", 75: "https://x/b_75.jpg"},
				{},
				{500: "https://remote/c_500.jpg"},
			},
		},
	}

	draft, err := n.Normalize(context.Background(), post)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"https://x/a_1280.jpg", "https://x/b_400.jpg", "https://remote/c_500.jpg"}}, images.calls)

	want := `<p><img src="/static/photos/a_1280.jpg"></p>` + "\n\n" +
		`<p><img src="/static/photos/b_400.jpg"></p>` + "\n\n" +
		`<p><img src="https://remote/c_500.jpg"></p>` +
		"\n\n" + `<span class="text-muted">Imported from Tumblr where it had 0 notes.</span>`
	require.Equal(t, want, draft.Body)
	require.Equal(t, 3, draft.Images)
	require.Equal(t, 2, draft.Localized)
}

func TestNormalizePhotoImageError(t *testing.T) {
	t.Parallel()

	n := New(blog, &fakeImages{err: context.Canceled}, nil)
	_, err := n.Normalize(context.Background(), tumblr.Post{
		ID:      3,
		Type:    tumblr.TypePhoto,
		Payload: tumblr.Photo{Candidates: resolution.Candidates{1: "https://x/a.jpg"}},
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeAnswer(t *testing.T) {
	t.Parallel()

	n := New(blog, nil, nil)
	draft, err := n.Normalize(context.Background(), tumblr.Post{
		ID:      4,
		Type:    tumblr.TypeAnswer,
		Payload: tumblr.Answer{Question: "Q?", Answer: "A."},
	})
	require.NoError(t, err)

	anon := strings.Index(draft.Body, "Anonymous")
	q := strings.Index(draft.Body, "Q?")
	a := strings.Index(draft.Body, "A.")
	require.GreaterOrEqual(t, anon, 0)
	require.Greater(t, q, anon)
	require.Greater(t, a, q)
	require.True(t, strings.HasPrefix(draft.Body,
		"<blockquote><strong>Anonymous</strong> asked:\n<p>Q?</p>\n</blockquote>\n\nA."))
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	ts := time.Unix(1325473445, 0).UTC()
	n := New(blog, nil, nil)
	draft, err := n.Normalize(context.Background(), tumblr.Post{
		ID:        5,
		Type:      tumblr.TypeRegular,
		Tags:      []string{"go"},
		Slug:      "hello-world",
		Timestamp: ts,
		NoteCount: 12,
		Payload:   tumblr.Text{Title: "Hello", Body: "<p>World</p>"},
	})
	require.NoError(t, err)
	require.Equal(t, "Hello", draft.Title)
	require.Equal(t, "<p>World</p>\n\n"+`<span class="text-muted">Imported from Tumblr where it had 12 notes.</span>`, draft.Body)
	require.Equal(t, "hello-world", draft.Slug)
	require.Equal(t, []string{"go"}, draft.Tags)
	require.Equal(t, ts, draft.Timestamp)
	require.Equal(t, int64(5), draft.SourceID)
	require.False(t, draft.Unsupported)
}

func TestNormalizeVideo(t *testing.T) {
	t.Parallel()

	n := New(blog, nil, nil)
	draft, err := n.Normalize(context.Background(), tumblr.Post{
		ID:        6,
		Type:      tumblr.TypeVideo,
		NoteCount: 7,
		Payload:   tumblr.Video{Caption: "clip"},
	})
	require.NoError(t, err)
	require.True(t, draft.Unsupported)
	require.Equal(t, "\n\n"+`<span class="text-muted">Imported from Tumblr where it had 7 notes.</span>`, draft.Body)
}

func TestNormalizeUnknown(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{"id":7,"type":"quote"}`)
	n := New(blog, nil, nil)
	_, err := n.Normalize(context.Background(), tumblr.Post{
		ID:      7,
		Type:    "quote",
		Payload: tumblr.Unknown{Type: "quote", Raw: raw},
	})

	var unknown *UnknownTypeError
	require.True(t, errors.As(err, &unknown))
	require.Equal(t, "quote", unknown.Type)
	require.Equal(t, int64(7), unknown.SourceID)
	require.JSONEq(t, string(raw), string(unknown.Raw))
}

func TestProvenanceSuffixForEveryType(t *testing.T) {
	t.Parallel()

	payloads := []tumblr.Payload{
		tumblr.Text{Title: "t", Body: "b"},
		tumblr.Photo{Caption: "c"},
		tumblr.Answer{Question: "q", Answer: "a"},
		tumblr.Video{},
	}
	n := New(blog, &fakeImages{}, nil)
	for i, p := range payloads {
		draft, err := n.Normalize(context.Background(), tumblr.Post{ID: int64(i), NoteCount: 1234, Payload: p})
		require.NoError(t, err)
		require.True(t, strings.HasSuffix(draft.Body,
			`<span class="text-muted">Imported from Tumblr where it had 1234 notes.</span>`), "%T", p)
	}
}

func TestSlug(t *testing.T) {
	t.Parallel()

	n := New(blog, nil, nil)
	tests := []struct {
		name string
		post tumblr.Post
		want string
	}{
		{"source slug", tumblr.Post{ID: 1, Slug: "my-post", URLWithSlug: "https://example.tumblr.com/post/1/other"}, "my-post"},
		{"url with slug", tumblr.Post{ID: 1, URLWithSlug: "https://example.tumblr.com/post/1/my-post"}, "post/1/my-post"},
		{"plain url", tumblr.Post{ID: 2, URL: "http://example.tumblr.com/post/2"}, "post/2"},
		{"custom domain", tumblr.Post{ID: 3, URLWithSlug: "https://blog.example.org/post/3/hi"}, "post/3/hi"},
		{"fallback", tumblr.Post{ID: 4}, "post-4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, n.Slug(tt.post))
		})
	}
}

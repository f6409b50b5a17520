package assets

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tumblr-backfill/internal/backfill"
	collyfetcher "github.com/JakeFAU/tumblr-backfill/internal/fetcher/colly"
	"github.com/JakeFAU/tumblr-backfill/internal/storage/memory"
)

type imageServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newImageServer(t *testing.T) *imageServer {
	t.Helper()
	s := &imageServer{hits: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg:" + r.URL.Path))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *imageServer) Hits(p string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[p]
}

func httpFetcher() backfill.Fetcher {
	return collyfetcher.New(collyfetcher.Config{UserAgent: "assets-test", Timeout: 5 * time.Second})
}

func TestFetchDownloadsOncePerFile(t *testing.T) {
	t.Parallel()

	srv := newImageServer(t)
	dir := filepath.Join(t.TempDir(), "static", "photos")
	f, err := NewLocal(httpFetcher(), dir, "/static/photos", nil, nil)
	require.NoError(t, err)

	urls := []string{srv.URL + "/tumblr_123.jpg", srv.URL + "/tumblr_456.png"}
	ctx := context.Background()

	first, err := f.Fetch(ctx, urls)
	require.NoError(t, err)
	second, err := f.Fetch(ctx, urls)
	require.NoError(t, err)

	require.Equal(t, []string{"/static/photos/tumblr_123.jpg", "/static/photos/tumblr_456.png"}, first)
	require.Equal(t, first, second)
	require.Equal(t, 1, srv.Hits("/tumblr_123.jpg"))
	require.Equal(t, 1, srv.Hits("/tumblr_456.png"))

	data, err := os.ReadFile(filepath.Join(dir, "tumblr_123.jpg"))
	require.NoError(t, err)
	require.Equal(t, "jpeg:/tumblr_123.jpg", string(data))
}

func TestFetchSkipsExistingFile(t *testing.T) {
	t.Parallel()

	srv := newImageServer(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.jpg"), []byte("kept"), 0o600))

	f, err := NewLocal(httpFetcher(), dir, "/static/photos/", nil, nil)
	require.NoError(t, err)

	refs, err := f.Fetch(context.Background(), []string{srv.URL + "/old.jpg"})
	require.NoError(t, err)
	require.Equal(t, []string{"/static/photos/old.jpg"}, refs)
	require.Zero(t, srv.Hits("/old.jpg"))
	require.True(t, f.IsLocal(refs[0]))
}

func TestFetchFallsBackToRemoteURL(t *testing.T) {
	t.Parallel()

	srv := newImageServer(t)
	store := memory.NewBlobStore()
	f, err := New(Config{HTTP: httpFetcher(), Store: store, URLPrefix: "/static/photos"})
	require.NoError(t, err)

	missing := srv.URL + "/missing.jpg"
	refs, err := f.Fetch(context.Background(), []string{missing, "", srv.URL + "/"})
	require.NoError(t, err)
	require.Equal(t, []string{missing, "", srv.URL + "/"}, refs)
	require.False(t, f.IsLocal(missing))
	require.Zero(t, store.Puts())
}

func TestFetchWriteFailureFallsBack(t *testing.T) {
	t.Parallel()

	srv := newImageServer(t)
	f, err := New(Config{HTTP: httpFetcher(), Store: failingStore{}, URLPrefix: "/p"})
	require.NoError(t, err)

	u := srv.URL + "/a.jpg"
	refs, err := f.Fetch(context.Background(), []string{u})
	require.NoError(t, err)
	require.Equal(t, []string{u}, refs)
}

func TestFetchMirrorsDownloads(t *testing.T) {
	t.Parallel()

	srv := newImageServer(t)
	store := memory.NewBlobStore()
	mirror := memory.NewBlobStore()
	f, err := New(Config{HTTP: httpFetcher(), Store: store, Mirror: mirror, URLPrefix: "/p"})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), []string{srv.URL + "/m.jpg", srv.URL + "/m.jpg"})
	require.NoError(t, err)

	data, ok := mirror.Object("m.jpg")
	require.True(t, ok)
	require.Equal(t, "jpeg:/m.jpg", string(data))
	require.Equal(t, 1, mirror.Puts())
	require.Equal(t, 1, srv.Hits("/m.jpg"))
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	f, err := New(Config{HTTP: httpFetcher(), Store: memory.NewBlobStore(), URLPrefix: "/p"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, []string{"http://127.0.0.1:1/a.jpg"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewLocalFailsOnFile(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err := NewLocal(httpFetcher(), file, "/p", nil, nil)
	require.Error(t, err)
}

func TestFileName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://64.media.tumblr.com/abc/tumblr_123_1280.jpg": "tumblr_123_1280.jpg",
		"https://x/tumblr_123.jpg?w=1":                        "tumblr_123.jpg",
		"https://x/":                                          "",
		"https://x":                                           "",
		"":                                                    "",
		"relative/path/pic.gif":                               "pic.gif",
	}
	for in, want := range tests {
		require.Equal(t, want, FileName(in), in)
	}
}

type failingStore struct{}

func (failingStore) Exists(context.Context, string) (bool, error) { return false, nil }

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("disk full")
}

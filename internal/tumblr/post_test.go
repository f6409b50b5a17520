package tumblr

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tumblr-backfill/internal/resolution"
)

func TestPostUnmarshalPayloads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want Payload
	}{
		{
			name: "regular",
			raw:  `{"id":"1","type":"regular","regular-title":"Hello","regular-body":"<p>World</p>"}`,
			want: Text{Title: "Hello", Body: "<p>World</p>"},
		},
		{
			name: "answer",
			raw:  `{"id":2,"type":"answer","question":"Q?","answer":"A."}`,
			want: Answer{Question: "Q?", Answer: "A."},
		},
		{
			name: "video",
			raw:  `{"id":3,"type":"video","video-caption":"clip"}`,
			want: Video{Caption: "clip"},
		},
		{
			name: "photo",
			raw: `{"id":4,"type":"photo","photo-caption":"Hi","photo-url-500":"https://x/a_500.jpg",
				"photo-url-1280":"https://x/a_1280.jpg","width":1280,
				"photos":[{"photo-url-400":"https://x/b_400.jpg","width":"400","caption":""}]}`,
			want: Photo{
				Caption:    "Hi",
				Candidates: resolution.Candidates{500: "https://x/a_500.jpg", 1280: "https://x/a_1280.jpg"},
				Photos:     []resolution.Candidates{{400: "https://x/b_400.jpg"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var p Post
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &p))
			require.Equal(t, tt.want, p.Payload)
		})
	}
}

func TestPostUnmarshalUnknownKeepsRaw(t *testing.T) {
	t.Parallel()

	raw := `{"id":9,"type":"quote","quote-text":"to be"}`
	var p Post
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	unknown, ok := p.Payload.(Unknown)
	require.True(t, ok)
	require.Equal(t, "quote", unknown.Type)
	require.JSONEq(t, raw, string(unknown.Raw))
	require.JSONEq(t, raw, string(p.Raw))
}

func TestPostUnmarshalCommonFields(t *testing.T) {
	t.Parallel()

	raw := `{"id":"123456789012","type":"regular","date-gmt":"2012-01-02 03:04:05 GMT",
		"unix-timestamp":1325473445,"tags":["a","b"],"slug":"my-post",
		"url":"https://blog.example.com/post/123456789012",
		"url-with-slug":"https://blog.example.com/post/123456789012/my-post","note-count":"42"}`
	var p Post
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	require.Equal(t, int64(123456789012), p.ID)
	require.Equal(t, "2012-01-02 03:04:05 GMT", p.DateGMT)
	require.Equal(t, time.Date(2012, 1, 2, 3, 4, 5, 0, time.UTC), p.Timestamp)
	require.Equal(t, []string{"a", "b"}, p.Tags)
	require.Equal(t, "my-post", p.Slug)
	require.Equal(t, "https://blog.example.com/post/123456789012", p.URL)
	require.Equal(t, "https://blog.example.com/post/123456789012/my-post", p.URLWithSlug)
	require.Equal(t, int64(42), p.NoteCount)
}

func TestPostUnmarshalMissingAndEmptyNumbers(t *testing.T) {
	t.Parallel()

	var p Post
	require.NoError(t, json.Unmarshal([]byte(`{"id":5,"type":"regular","note-count":""}`), &p))
	require.Equal(t, int64(0), p.NoteCount)
	require.Nil(t, p.Tags)
}

func TestPostUnmarshalBadNumber(t *testing.T) {
	t.Parallel()

	var p Post
	err := json.Unmarshal([]byte(`{"id":"abc","type":"regular"}`), &p)
	require.Error(t, err)
}

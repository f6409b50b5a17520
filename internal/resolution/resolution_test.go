package resolution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Candidates
		want string
	}{
		{"unsorted widths", Candidates{100: "a", 400: "b", 250: "c"}, "b"},
		{"single", Candidates{500: "https://x/tumblr_123.jpg"}, "https://x/tumblr_123.jpg"},
		{"empty", Candidates{}, ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Best(tt.in))
		})
	}
}

func TestFromFields(t *testing.T) {
	t.Parallel()

	got := FromFields(map[string]string{
		"photo-url-1280":    "https://x/1280.jpg",
		"photo-url-75":      "https://x/75.jpg",
		"photo-url-0":       "https://x/0.jpg",
		"photo-url-400":     "",
		"photo-caption":     "hello",
		"photo-url-abc":     "https://x/abc.jpg",
		"photo-link-url":    "https://x/link",
		"photo-url-500-old": "https://x/old.jpg",
	})
	assert.Equal(t, Candidates{1280: "https://x/1280.jpg", 75: "https://x/75.jpg"}, got)
	assert.Equal(t, "https://x/1280.jpg", Best(got))
}

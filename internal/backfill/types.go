package backfill

import (
	"net/http"
	"sort"
	"time"
)

// Content defaults applied to every imported entry.
const (
	ContentTypeHTML = "html"
	PrivacyPublic   = "public"
	DefaultAuthorID = 1
)

// Entry is the canonical, sequence-numbered record persisted in the content store.
type Entry struct {
	ID             int       `json:"id"`
	Title          string    `json:"title"`
	Fragment       string    `json:"fragment"`
	ContentType    string    `json:"contentType"`
	AuthorID       int       `json:"author"`
	Body           string    `json:"body"`
	Privacy        string    `json:"privacy"`
	Sticky         bool      `json:"sticky"`
	EnableComments bool      `json:"enableComments"`
	Tags           []string  `json:"tags"`
	Created        time.Time `json:"created"`
	Updated        time.Time `json:"updated"`
}

// SlugIndex maps a fragment (slug) document back to its entry ID.
type SlugIndex struct {
	ID int `json:"id"`
}

// Draft is a normalized post that has not been assigned a sequence ID yet.
type Draft struct {
	SourceID  int64
	Type      string
	Title     string
	Slug      string
	Body      string
	Tags      []string
	Timestamp time.Time
	// Unsupported marks drafts whose body could not be produced (video posts).
	Unsupported bool
	// Images counts image references rendered into the body; Localized counts
	// how many of them point at the local asset directory.
	Images    int
	Localized int
}

// NewEntry builds an Entry from a draft with the fixed visibility and comment defaults.
func NewEntry(id int, d Draft) Entry {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	ts := d.Timestamp.UTC()
	return Entry{
		ID:             id,
		Title:          d.Title,
		Fragment:       d.Slug,
		ContentType:    ContentTypeHTML,
		AuthorID:       DefaultAuthorID,
		Body:           d.Body,
		Privacy:        PrivacyPublic,
		Sticky:         false,
		EnableComments: true,
		Tags:           tags,
		Created:        ts,
		Updated:        ts,
	}
}

// SeenSet tracks source post IDs already handled in a run.
type SeenSet struct {
	ids map[int64]struct{}
}

// NewSeenSet returns a set seeded with ids.
func NewSeenSet(ids ...int64) *SeenSet {
	s := &SeenSet{ids: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Has reports whether id was already seen.
func (s *SeenSet) Has(id int64) bool {
	_, ok := s.ids[id]
	return ok
}

// Add marks id as seen and reports whether it was new.
func (s *SeenSet) Add(id int64) bool {
	if s.Has(id) {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Len returns the number of seen IDs.
func (s *SeenSet) Len() int {
	return len(s.ids)
}

// IDs returns the seen IDs in ascending order.
func (s *SeenSet) IDs() []int64 {
	out := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// EntryImported is the notification payload published after an entry is written.
type EntryImported struct {
	RunID      string    `json:"run_id"`
	Blog       string    `json:"blog"`
	SourceID   int64     `json:"source_id"`
	SequenceID int       `json:"sequence_id"`
	Slug       string    `json:"slug"`
	Type       string    `json:"type"`
	Created    time.Time `json:"created"`
}

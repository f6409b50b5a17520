// Package normalize turns decoded source posts into storage-ready drafts.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/tumblr-backfill/internal/backfill"
	"github.com/JakeFAU/tumblr-backfill/internal/resolution"
	"github.com/JakeFAU/tumblr-backfill/internal/tumblr"
)

const provenanceFormat = "\n\n" + `<span class="text-muted">Imported from Tumblr where it had %d notes.</span>`

// ImageFetcher localizes image URLs.
type ImageFetcher interface {
	Fetch(ctx context.Context, urls []string) ([]string, error)
	IsLocal(ref string) bool
}

// UnknownTypeError is returned for post types without a rendering.
type UnknownTypeError struct {
	SourceID int64
	Type     string
	Raw      json.RawMessage
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("post %d has unsupported type %q", e.SourceID, e.Type)
}

// Normalizer renders posts of one blog.
type Normalizer struct {
	blog       string
	slugPrefix *regexp.Regexp
	images     ImageFetcher
	logger     *zap.Logger
}

// New builds a Normalizer for blog (e.g. "example.tumblr.com").
func New(blog string, images ImageFetcher, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		blog:       blog,
		slugPrefix: regexp.MustCompile(`.*` + regexp.QuoteMeta(blog) + `/`),
		images:     images,
		logger:     logger,
	}
}

// Normalize renders post into a draft. Unknown post types yield an
// *UnknownTypeError; video posts yield an Unsupported draft with no content.
func (n *Normalizer) Normalize(ctx context.Context, post tumblr.Post) (backfill.Draft, error) {
	draft := backfill.Draft{
		SourceID:  post.ID,
		Type:      post.Type,
		Slug:      n.Slug(post),
		Tags:      post.Tags,
		Timestamp: post.Timestamp,
	}

	switch p := post.Payload.(type) {
	case tumblr.Text:
		draft.Title = p.Title
		draft.Body = p.Body
	case tumblr.Photo:
		body, images, localized, err := n.renderPhoto(ctx, p)
		if err != nil {
			return backfill.Draft{}, fmt.Errorf("post %d: %w", post.ID, err)
		}
		draft.Body = body
		draft.Images = images
		draft.Localized = localized
	case tumblr.Answer:
		draft.Body = renderAnswer(p)
	case tumblr.Video:
		n.logger.Warn("video posts are not supported", zap.Int64("source_id", post.ID))
		draft.Unsupported = true
	case tumblr.Unknown:
		return backfill.Draft{}, &UnknownTypeError{SourceID: post.ID, Type: p.Type, Raw: p.Raw}
	default:
		return backfill.Draft{}, &UnknownTypeError{SourceID: post.ID, Type: post.Type, Raw: post.Raw}
	}

	draft.Body += fmt.Sprintf(provenanceFormat, post.NoteCount)
	return draft, nil
}

func (n *Normalizer) renderPhoto(ctx context.Context, p tumblr.Photo) (string, int, int, error) {
	sets := append([]resolution.Candidates{p.Candidates}, p.Photos...)
	urls := make([]string, 0, len(sets))
	for _, set := range sets {
		if best := resolution.Best(set); best != "" {
			urls = append(urls, best)
		}
	}

	refs := urls
	if n.images != nil && len(urls) > 0 {
		var err error
		refs, err = n.images.Fetch(ctx, urls)
		if err != nil {
			return "", 0, 0, err
		}
	}

	lines := make([]string, 0, len(refs))
	localized := 0
	for _, ref := range refs {
		lines = append(lines, `<p><img src="`+ref+`"></p>`+"\n")
		if n.images != nil && n.images.IsLocal(ref) {
			localized++
		}
	}
	body := strings.TrimSpace(strings.Join(lines, "\n") + "\n\n" + p.Caption)
	return body, len(refs), localized, nil
}

func renderAnswer(a tumblr.Answer) string {
	return "<blockquote><strong>Anonymous</strong> asked:\n" +
		"<p>" + a.Question + "</p>\n" +
		"</blockquote>\n\n" + a.Answer
}

// Slug returns the post's fragment: the source slug, else the post URL with
// everything through the blog name removed, else "post-<id>".
func (n *Normalizer) Slug(post tumblr.Post) string {
	if slug := strings.Trim(post.Slug, "/"); slug != "" {
		return slug
	}
	for _, raw := range []string{post.URLWithSlug, post.URL} {
		if raw == "" {
			continue
		}
		if slug := strings.Trim(n.slugFromURL(raw), "/"); slug != "" {
			return slug
		}
	}
	return "post-" + strconv.FormatInt(post.ID, 10)
}

func (n *Normalizer) slugFromURL(raw string) string {
	if n.blog != "" && n.slugPrefix.MatchString(raw) {
		return n.slugPrefix.ReplaceAllString(raw, "")
	}
	// Custom domains do not contain the blog name.
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Path
}

// Package tumblr reads a blog through the legacy v1 read API
// (/api/read/json), which wraps its JSON in a JavaScript assignment.
package tumblr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/tumblr-backfill/internal/backfill"
)

// rootPageSize matches the API's own default page size.
const rootPageSize = 20

// ErrUnwrapped is returned when a response lacks the expected wrapper.
var ErrUnwrapped = errors.New("response is not a wrapped tumblr_api_read payload")

var wrapperPattern = regexp.MustCompile(`(?s)var tumblr_api_read = (.+);`)

// Tumblelog describes the blog itself.
type Tumblelog struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Name        string `json:"name"`
}

// Page is one decoded API response.
type Page struct {
	Tumblelog  Tumblelog
	PostsStart int64
	PostsTotal int64
	Posts      []Post
}

type wirePage struct {
	Tumblelog Tumblelog       `json:"tumblelog"`
	Posts     []Post          `json:"posts"`
	Start     json.RawMessage `json:"posts-start"`
	Total     json.RawMessage `json:"posts-total"`
}

// Client fetches and decodes API pages.
type Client struct {
	fetcher backfill.Fetcher
	apiRoot string
	logger  *zap.Logger
}

// NewClient builds a Client for apiRoot, e.g. "https://example.tumblr.com/api/read/json".
func NewClient(fetcher backfill.Fetcher, apiRoot string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{fetcher: fetcher, apiRoot: apiRoot, logger: logger}
}

// APIRoot returns the endpoint the client reads from.
func (c *Client) APIRoot() string {
	return c.apiRoot
}

// Root fetches the first page, which carries blog metadata and posts-total.
func (c *Client) Root(ctx context.Context) (Page, error) {
	return c.Page(ctx, 0, rootPageSize)
}

// Page fetches num posts beginning at start (0 is the newest post).
func (c *Client) Page(ctx context.Context, start, num int) (Page, error) {
	pageURL, err := c.pageURL(start, num)
	if err != nil {
		return Page{}, err
	}
	c.logger.Info("api get", zap.String("url", pageURL))

	resp, err := c.fetcher.Fetch(ctx, backfill.FetchRequest{URL: pageURL})
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	page, err := Decode(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("decode %s: %w", pageURL, err)
	}
	return page, nil
}

func (c *Client) pageURL(start, num int) (string, error) {
	u, err := url.Parse(c.apiRoot)
	if err != nil {
		return "", fmt.Errorf("parse api root: %w", err)
	}
	q := u.Query()
	q.Set("start", strconv.Itoa(start))
	q.Set("num", strconv.Itoa(num))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Decode strips the JavaScript wrapper from body and decodes the page.
func Decode(body []byte) (Page, error) {
	m := wrapperPattern.FindSubmatch(body)
	if m == nil {
		return Page{}, ErrUnwrapped
	}
	var wp wirePage
	if err := json.Unmarshal(m[1], &wp); err != nil {
		return Page{}, fmt.Errorf("decode payload: %w", err)
	}
	fields := map[string]json.RawMessage{"posts-start": wp.Start, "posts-total": wp.Total}
	start, err := intField(fields, "posts-start")
	if err != nil {
		return Page{}, err
	}
	total, err := intField(fields, "posts-total")
	if err != nil {
		return Page{}, err
	}
	return Page{
		Tumblelog:  wp.Tumblelog,
		PostsStart: start,
		PostsTotal: total,
		Posts:      wp.Posts,
	}, nil
}

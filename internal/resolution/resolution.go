// Package resolution picks the best variant out of a set of same-image
// candidates offered at different pixel widths.
package resolution

import (
	"regexp"
	"strconv"
)

// Candidates maps a pixel width to the image URL offered at that width.
type Candidates map[int]string

var photoURLKey = regexp.MustCompile(`^photo-url-(\d+)$`)

// Best returns the URL with the numerically largest width, or "" when there
// are no candidates.
func Best(c Candidates) string {
	highest := 0
	best := ""
	for width, url := range c {
		if width > highest {
			highest = width
			best = url
		}
	}
	return best
}

// FromFields collects candidates from "photo-url-<width>" keys. Keys with a
// non-positive width or an empty URL are ignored.
func FromFields(fields map[string]string) Candidates {
	out := make(Candidates)
	for key, url := range fields {
		m := photoURLKey.FindStringSubmatch(key)
		if m == nil || url == "" {
			continue
		}
		width, err := strconv.Atoi(m[1])
		if err != nil || width <= 0 {
			continue
		}
		out[width] = url
	}
	return out
}

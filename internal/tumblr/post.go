package tumblr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/JakeFAU/tumblr-backfill/internal/resolution"
)

// Post types as reported by the v1 API.
const (
	TypeRegular = "regular"
	TypePhoto   = "photo"
	TypeAnswer  = "answer"
	TypeVideo   = "video"
)

// Payload is the type-specific content of a post. The set of implementations
// is closed: Text, Photo, Answer, Video and Unknown.
type Payload interface {
	isPayload()
}

// Text is a "regular" post.
type Text struct {
	Title string
	Body  string
}

// Photo is a photo or photoset post.
type Photo struct {
	Caption    string
	Candidates resolution.Candidates
	// Photos holds one candidate set per photoset member.
	Photos []resolution.Candidates
}

// Answer is an ask/answer post.
type Answer struct {
	Question string
	Answer   string
}

// Video is a video post. Only the caption is retained.
type Video struct {
	Caption string
}

// Unknown is any post type the importer does not model.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (Text) isPayload()    {}
func (Photo) isPayload()   {}
func (Answer) isPayload()  {}
func (Video) isPayload()   {}
func (Unknown) isPayload() {}

// Post is one record from the v1 read API.
type Post struct {
	ID          int64
	Type        string
	DateGMT     string
	Timestamp   time.Time
	Tags        []string
	Slug        string
	URL         string
	URLWithSlug string
	NoteCount   int64
	Payload     Payload
	Raw         json.RawMessage
}

// UnmarshalJSON decodes a post, tolerating numbers sent as strings.
func (p *Post) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode post: %w", err)
	}

	id, err := intField(fields, "id")
	if err != nil {
		return err
	}
	unix, err := intField(fields, "unix-timestamp")
	if err != nil {
		return fmt.Errorf("post %d: %w", id, err)
	}
	notes, err := intField(fields, "note-count")
	if err != nil {
		return fmt.Errorf("post %d: %w", id, err)
	}
	var tags []string
	if rawTags, ok := fields["tags"]; ok {
		if err := json.Unmarshal(rawTags, &tags); err != nil {
			return fmt.Errorf("post %d: decode tags: %w", id, err)
		}
	}

	*p = Post{
		ID:          id,
		Type:        stringField(fields, "type"),
		DateGMT:     stringField(fields, "date-gmt"),
		Timestamp:   time.Unix(unix, 0).UTC(),
		Tags:        tags,
		Slug:        stringField(fields, "slug"),
		URL:         stringField(fields, "url"),
		URLWithSlug: stringField(fields, "url-with-slug"),
		NoteCount:   notes,
		Raw:         append(json.RawMessage(nil), data...),
	}
	p.Payload, err = decodePayload(p.Type, fields, p.Raw)
	if err != nil {
		return fmt.Errorf("post %d: %w", id, err)
	}
	return nil
}

func decodePayload(postType string, fields map[string]json.RawMessage, raw json.RawMessage) (Payload, error) {
	switch postType {
	case TypeRegular:
		return Text{
			Title: stringField(fields, "regular-title"),
			Body:  stringField(fields, "regular-body"),
		}, nil
	case TypePhoto:
		photo := Photo{
			Caption:    stringField(fields, "photo-caption"),
			Candidates: resolution.FromFields(stringFields(fields)),
		}
		if rawPhotos, ok := fields["photos"]; ok {
			var members []map[string]json.RawMessage
			if err := json.Unmarshal(rawPhotos, &members); err != nil {
				return nil, fmt.Errorf("decode photos: %w", err)
			}
			for _, m := range members {
				photo.Photos = append(photo.Photos, resolution.FromFields(stringFields(m)))
			}
		}
		return photo, nil
	case TypeAnswer:
		return Answer{
			Question: stringField(fields, "question"),
			Answer:   stringField(fields, "answer"),
		}, nil
	case TypeVideo:
		return Video{Caption: stringField(fields, "video-caption")}, nil
	default:
		return Unknown{Type: postType, Raw: raw}, nil
	}
}

// stringField returns the string value at key, or "" when absent or not a string.
func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func stringFields(fields map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(fields))
	for k := range fields {
		if s := stringField(fields, k); s != "" {
			out[k] = s
		}
	}
	return out
}

// intField reads an integer that may be encoded as a JSON number or string.
// Missing, null and empty values decode as zero.
func intField(fields map[string]json.RawMessage, key string) (int64, error) {
	raw, ok := fields[key]
	if !ok || len(raw) == 0 {
		return 0, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}
	switch t := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		v = t.String()
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return 0, nil
		}
		v = t
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return n, nil
}

package feed

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/pders01/subwatch/internal/debuglog"
)

// PublishedLayout is the timestamp format of channel feeds.
const PublishedLayout = time.RFC3339

// Entry is one item of a channel feed, independent of the feed format.
type Entry struct {
	ExternalID   string
	Title        string
	Link         string
	Published    time.Time
	ThumbnailURL string
}

type Parser struct {
	parser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: gofeed.NewParser(),
	}
}

// Parse reads a feed document. Entries without an external id or with a
// malformed published timestamp are dropped; the rest keep feed order.
func (p *Parser) Parse(reader io.Reader) ([]Entry, error) {
	feed, err := p.parser.Parse(reader)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entry, err := toEntry(item)
		if err != nil {
			debuglog.WithFields(map[string]interface{}{
				"guid":  item.GUID,
				"title": item.Title,
			}).Warnf("dropping feed entry: %v", err)
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func toEntry(item *gofeed.Item) (Entry, error) {
	id := externalID(item)
	if id == "" {
		return Entry{}, fmt.Errorf("entry has no external id")
	}

	published, err := time.Parse(PublishedLayout, strings.TrimSpace(item.Published))
	if err != nil {
		return Entry{}, fmt.Errorf("parsing published timestamp %q: %w", item.Published, err)
	}

	return Entry{
		ExternalID:   id,
		Title:        strings.TrimSpace(item.Title),
		Link:         item.Link,
		Published:    published,
		ThumbnailURL: thumbnailURL(item),
	}, nil
}

// externalID prefers <yt:videoId> and falls back to the entry id with the
// "yt:video:" prefix removed.
func externalID(item *gofeed.Item) string {
	if yt, ok := item.Extensions["yt"]; ok {
		for _, ext := range yt["videoId"] {
			if v := strings.TrimSpace(ext.Value); v != "" {
				return v
			}
		}
	}
	return strings.TrimPrefix(strings.TrimSpace(item.GUID), "yt:video:")
}

// thumbnailURL reads <media:group><media:thumbnail url=.../>, then the
// item image.
func thumbnailURL(item *gofeed.Item) string {
	if media, ok := item.Extensions["media"]; ok {
		for _, group := range media["group"] {
			for _, thumb := range group.Children["thumbnail"] {
				if u := thumb.Attrs["url"]; u != "" {
					return u
				}
			}
		}
		for _, thumb := range media["thumbnail"] {
			if u := thumb.Attrs["url"]; u != "" {
				return u
			}
		}
	}

	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	return ""
}

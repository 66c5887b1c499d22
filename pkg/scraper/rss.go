package scraper

import (
	"context"
	"fmt"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"

	"council-gather/pkg/pipeline"
)

// RSSConfig configures the feed scraper.
type RSSConfig struct {
	// FeedURL is the RSS or Atom feed to read events from.
	FeedURL string
	// Body names the governing body all feed items belong to. When
	// empty, the feed's own title is used.
	Body string
}

// RSSScraper reads events from an RSS or Atom feed. Smaller
// municipalities that publish recordings as a podcast-style feed get
// the same pipeline as Legistar cities: each feed item becomes one
// event, its first media enclosure the recording.
type RSSScraper struct {
	cfg    RSSConfig
	parser *gofeed.Parser
}

// NewRSSScraper constructs the feed scraper.
func NewRSSScraper(cfg RSSConfig) *RSSScraper {
	return &RSSScraper{cfg: cfg, parser: gofeed.NewParser()}
}

// Events returns one raw descriptor per feed item published within
// [span.Start, span.End).
func (s *RSSScraper) Events(ctx context.Context, span pipeline.TimeSpan) ([]pipeline.RawEvent, error) {
	feed, err := s.parser.ParseURLWithContext(s.cfg.FeedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed %s: %v", pipeline.ErrSourceUnavailable, s.cfg.FeedURL, err)
	}

	body := s.cfg.Body
	if body == "" {
		body = cleanString(feed.Title)
	}

	var events []pipeline.RawEvent
	for _, item := range feed.Items {
		if item.PublishedParsed == nil || !span.Contains(*item.PublishedParsed) {
			continue
		}

		raw := pipeline.RawEvent{
			ExternalSourceID: item.GUID,
			Body:             body,
			EventDateTime:    *item.PublishedParsed,
			SourceURI:        item.Link,
		}
		for _, enc := range item.Enclosures {
			if strings.HasPrefix(enc.Type, "video/") || strings.HasPrefix(enc.Type, "audio/") {
				raw.VideoURI = enc.URL
				break
			}
		}
		if item.Image != nil {
			raw.ThumbnailURI = item.Image.URL
		}

		// Feed show notes stand in for the agenda: one minutes item per
		// feed item, with the notes reduced to readable text.
		if desc := itemDescription(item); desc != "" || item.Title != "" {
			raw.MinutesItems = []pipeline.RawMinutesItem{{
				Name:        cleanString(item.Title),
				Description: desc,
			}}
		}

		events = append(events, raw)
	}
	return events, nil
}

// itemDescription reduces a feed item's HTML content to plain text.
func itemDescription(item *gofeed.Item) string {
	html := item.Content
	if html == "" {
		html = item.Description
	}
	if html == "" {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(html), nil)
	if err != nil || strings.TrimSpace(article.TextContent) == "" {
		// Not every feed body is article-shaped; fall back to a crude
		// tag strip via goquery-free trimming of the raw text.
		return cleanString(stripTags(html))
	}
	return strings.TrimSpace(article.TextContent)
}

// stripTags removes anything angle-bracketed. Good enough for feed
// descriptions that readability rejects as too short.
func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"council-gather/pkg/pipeline"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Lakeview Town Council</title>
  <link>https://lakeview.example.gov/meetings</link>
  <item>
    <guid>lakeview-2026-01-06</guid>
    <title>Regular Meeting - January 6</title>
    <link>https://lakeview.example.gov/meetings/2026-01-06</link>
    <pubDate>Tue, 06 Jan 2026 19:00:00 GMT</pubDate>
    <description>&lt;p&gt;Budget hearing and &lt;b&gt;two&lt;/b&gt; appointments.&lt;/p&gt;</description>
    <enclosure url="https://media.lakeview.example.gov/2026-01-06.mp4" type="video/mp4" length="1024"/>
  </item>
  <item>
    <guid>lakeview-2025-12-16</guid>
    <title>Regular Meeting - December 16</title>
    <link>https://lakeview.example.gov/meetings/2025-12-16</link>
    <pubDate>Tue, 16 Dec 2025 19:00:00 GMT</pubDate>
    <enclosure url="https://media.lakeview.example.gov/2025-12-16.mp4" type="video/mp4" length="1024"/>
  </item>
</channel>
</rss>`

func TestRSSScraperEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(feedXML))
	}))
	defer server.Close()

	s := NewRSSScraper(RSSConfig{FeedURL: server.URL})
	span := pipeline.TimeSpan{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC),
	}

	events, err := s.Events(context.Background(), span)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	// Only the January item falls inside the span.
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	ev := events[0]
	if ev.Body != "Lakeview Town Council" {
		t.Errorf("Body = %q", ev.Body)
	}
	if ev.ExternalSourceID != "lakeview-2026-01-06" {
		t.Errorf("ExternalSourceID = %q", ev.ExternalSourceID)
	}
	if ev.VideoURI != "https://media.lakeview.example.gov/2026-01-06.mp4" {
		t.Errorf("VideoURI = %q", ev.VideoURI)
	}
	if len(ev.MinutesItems) != 1 {
		t.Fatalf("got %d minutes items, want 1", len(ev.MinutesItems))
	}
	item := ev.MinutesItems[0]
	if item.Name != "Regular Meeting - January 6" {
		t.Errorf("minutes item name = %q", item.Name)
	}
	if !strings.Contains(item.Description, "Budget hearing") {
		t.Errorf("description = %q, want show notes text", item.Description)
	}
	if strings.Contains(item.Description, "<p>") || strings.Contains(item.Description, "<b>") {
		t.Errorf("description still carries markup: %q", item.Description)
	}
}

func TestRSSScraperBodyOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedXML))
	}))
	defer server.Close()

	s := NewRSSScraper(RSSConfig{FeedURL: server.URL, Body: "Town Council"})
	span := pipeline.TimeSpan{
		Start: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	events, err := s.Events(context.Background(), span)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Body != "Town Council" {
			t.Errorf("Body = %q, want configured override", ev.Body)
		}
	}
}

func TestRSSScraperUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusBadGateway)
	}))
	defer server.Close()

	s := NewRSSScraper(RSSConfig{FeedURL: server.URL})
	_, err := s.Events(context.Background(), pipeline.TimeSpan{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, pipeline.ErrSourceUnavailable) {
		t.Errorf("err = %v, want ErrSourceUnavailable", err)
	}
}

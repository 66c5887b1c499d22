// Package scraper provides event scrapers: a Legistar-backed municipal
// video portal scraper and an RSS feed scraper. Both produce raw event
// descriptors for a time span; media retrieval happens downstream.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"council-gather/pkg/httpclient"
	"council-gather/pkg/pipeline"
)

const legistarBase = "https://webapi.legistar.com/v1"

// videoURLPattern finds the direct media URL inside the portal's
// onclick javascript. Some filenames contain spaces, hence the space in
// the character class.
var videoURLPattern = regexp.MustCompile(`https?://[a-zA-Z0-9./_:\- ]*\.(mp4|flv|m3u8)`)

// LegistarConfig configures the portal + Legistar API scraper.
type LegistarConfig struct {
	// CalendarURL is the video portal's main calendar page, listing one
	// route per governing body.
	CalendarURL string
	// Client is the Legistar API client name, e.g. "seattle". When
	// empty, API enrichment is skipped and events carry portal data only.
	Client string
	// RequestsPerSecond bounds outbound requests across both the portal
	// and the Legistar API. Zero means 2/s.
	RequestsPerSecond float64
}

// LegistarScraper scrapes a municipal video portal for event recordings
// and enriches each event with agenda items, matters, and votes from
// the Legistar web API.
type LegistarScraper struct {
	cfg     LegistarConfig
	httpc   *httpclient.HTTPClient
	limiter *rate.Limiter
	api     string
}

// NewLegistarScraper constructs the scraper with a browser header
// profile; municipal portals commonly reject non-browser User-Agents.
func NewLegistarScraper(cfg LegistarConfig) *LegistarScraper {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	return &LegistarScraper{
		cfg:     cfg,
		httpc:   httpclient.NewClient(httpclient.BrowserClient),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		api:     legistarBase,
	}
}

// Events returns raw descriptors for every portal event dated within
// [span.Start, span.End).
func (s *LegistarScraper) Events(ctx context.Context, span pipeline.TimeSpan) ([]pipeline.RawEvent, error) {
	routes, err := s.bodyRoutes(ctx)
	if err != nil {
		return nil, err
	}

	var events []pipeline.RawEvent
	var failedRoutes int
	var lastErr error
	for _, route := range routes {
		routeEvents, err := s.routeEvents(ctx, route, span)
		if err != nil {
			// One body's page failing should not sink the whole gather.
			failedRoutes++
			lastErr = err
			log.Printf("LegistarScraper: skipping route %s: %v", route, err)
			continue
		}
		events = append(events, routeEvents...)
	}
	if failedRoutes == len(routes) {
		return nil, fmt.Errorf("all %d body routes failed: %w", failedRoutes, lastErr)
	}

	if s.cfg.Client != "" {
		if err := s.enrich(ctx, events, span); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// bodyRoutes scrapes the calendar page for per-body archive routes.
func (s *LegistarScraper) bodyRoutes(ctx context.Context) ([]string, error) {
	html, err := s.fetch(ctx, s.cfg.CalendarURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: parse calendar page: %v", pipeline.ErrSourceFormatChanged, err)
	}

	var routes []string
	doc.Find("div#mainContent li a").Each(func(i int, link *goquery.Selection) {
		href, exists := link.Attr("href")
		if !exists || href == "" {
			return
		}
		routes = append(routes, resolveRoute(s.cfg.CalendarURL, href))
	})

	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: no body routes on %s", pipeline.ErrSourceFormatChanged, s.cfg.CalendarURL)
	}
	return routes, nil
}

// routeEvents scrapes one body's archive page for events inside span.
func (s *LegistarScraper) routeEvents(ctx context.Context, route string, span pipeline.TimeSpan) ([]pipeline.RawEvent, error) {
	html, err := s.fetch(ctx, route)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", pipeline.ErrSourceFormatChanged, route, err)
	}

	var events []pipeline.RawEvent
	doc.Find("div.row.borderBottomNone.paginationItem").Each(func(i int, container *goquery.Selection) {
		raw, err := s.parseEventContainer(container, route)
		if err != nil {
			return // malformed block; the rest of the page still parses
		}
		if !span.Contains(raw.EventDateTime) {
			return
		}
		events = append(events, raw)
	})
	return events, nil
}

// parseEventContainer extracts one event from a portal event block.
func (s *LegistarScraper) parseEventContainer(container *goquery.Selection, route string) (pipeline.RawEvent, error) {
	details := container.Find("div.col-xs-12.col-sm-8.col-md-9")

	body := cleanString(details.Find("h2").First().Text())
	if body == "" {
		return pipeline.RawEvent{}, fmt.Errorf("event block missing body name")
	}

	dateText := strings.TrimSpace(details.Find("div.videoDate").First().Text())
	eventDT, err := parsePortalDate(dateText)
	if err != nil {
		return pipeline.RawEvent{}, fmt.Errorf("parse event date %q: %w", dateText, err)
	}

	// Executive sessions have no public record to gather.
	agenda := details.Find("div.titleExcerptText").First().Text()
	if strings.Contains(strings.ToLower(agenda), "executive session") {
		return pipeline.RawEvent{}, fmt.Errorf("executive session")
	}

	media := container.Find("div.col-xs-12.col-sm-4.col-md-3 a").First()
	onclick, _ := media.Attr("onclick")
	videoURI := strings.ReplaceAll(videoURLPattern.FindString(onclick), " ", "")
	if videoURI == "" {
		// Newer portal markup carries the media URL directly.
		videoURI, _ = media.Attr("data-video")
	}

	sourcePage, _ := media.Attr("href")
	thumbnail, _ := media.Find("img").First().Attr("src")

	raw := pipeline.RawEvent{
		Body:          body,
		EventDateTime: eventDT,
		VideoURI:      videoURI,
		SourceURI:     resolveRoute(route, sourcePage),
	}
	if thumbnail != "" {
		raw.ThumbnailURI = resolveRoute(route, thumbnail)
	}
	if track, ok := media.Attr("data-captions"); ok && track != "" {
		raw.CaptionURI = resolveRoute(route, track)
	}
	return raw, nil
}

// legistarEvent mirrors the fields we consume from the Legistar API.
type legistarEvent struct {
	EventID          int    `json:"EventId"`
	EventBodyID      int    `json:"EventBodyId"`
	EventBodyName    string `json:"EventBodyName"`
	EventDate        string `json:"EventDate"`
	EventAgendaFile  string `json:"EventAgendaFile"`
	EventMinutesFile string `json:"EventMinutesFile"`
	EventInSiteURL   string `json:"EventInSiteURL"`
}

type legistarEventItem struct {
	EventItemID             int    `json:"EventItemId"`
	EventItemTitle          string `json:"EventItemTitle"`
	EventItemMatterName     string `json:"EventItemMatterName"`
	EventItemMatterFile     string `json:"EventItemMatterFile"`
	EventItemMatterType     string `json:"EventItemMatterType"`
	EventItemMatterID       int    `json:"EventItemMatterId"`
	EventItemPassedFlagName string `json:"EventItemPassedFlagName"`
}

type legistarVote struct {
	VoteID         int    `json:"VoteId"`
	VotePersonID   int    `json:"VotePersonId"`
	VotePersonName string `json:"VotePersonName"`
	VoteValueName  string `json:"VoteValueName"`
}

// enrich attaches Legistar agenda items, matters, and votes to the
// portal events, matched by body name and calendar date.
func (s *LegistarScraper) enrich(ctx context.Context, events []pipeline.RawEvent, span pipeline.TimeSpan) error {
	apiEvents, err := s.legistarEvents(ctx, span)
	if err != nil {
		return err
	}

	for i := range events {
		match := matchLegistarEvent(apiEvents, events[i])
		if match == nil {
			continue
		}
		events[i].ExternalSourceID = strconv.Itoa(match.EventID)
		events[i].BodyExternalSourceID = strconv.Itoa(match.EventBodyID)
		events[i].AgendaURI = match.EventAgendaFile
		events[i].MinutesURI = match.EventMinutesFile
		if events[i].SourceURI == "" {
			events[i].SourceURI = match.EventInSiteURL
		}

		items, err := s.legistarEventItems(ctx, match.EventID)
		if err != nil {
			continue
		}
		events[i].MinutesItems = items
	}
	return nil
}

func (s *LegistarScraper) legistarEvents(ctx context.Context, span pipeline.TimeSpan) ([]legistarEvent, error) {
	filter := fmt.Sprintf(
		"EventDate ge datetime'%s' and EventDate lt datetime'%s'",
		span.Start.Format("2006-01-02T15:04:05"),
		span.End.Format("2006-01-02T15:04:05"),
	)
	uri := fmt.Sprintf("%s/%s/Events?$filter=%s", s.api, s.cfg.Client, url.QueryEscape(filter))

	var events []legistarEvent
	if err := s.fetchJSON(ctx, uri, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *LegistarScraper) legistarEventItems(ctx context.Context, eventID int) ([]pipeline.RawMinutesItem, error) {
	uri := fmt.Sprintf("%s/%s/Events/%d/EventItems?AgendaNote=1&MinutesNote=1&Attachments=1", s.api, s.cfg.Client, eventID)

	var apiItems []legistarEventItem
	if err := s.fetchJSON(ctx, uri, &apiItems); err != nil {
		return nil, err
	}

	var items []pipeline.RawMinutesItem
	for _, ai := range apiItems {
		name := cleanString(ai.EventItemTitle)
		if name == "" {
			name = cleanString(ai.EventItemMatterName)
		}
		if name == "" {
			continue
		}

		item := pipeline.RawMinutesItem{
			Name:             name,
			ExternalSourceID: strconv.Itoa(ai.EventItemID),
			Decision:         ai.EventItemPassedFlagName,
		}
		if ai.EventItemMatterName != "" {
			item.Matter = &pipeline.RawMatter{
				Name:             cleanString(ai.EventItemMatterName),
				Title:            cleanString(ai.EventItemMatterFile),
				Type:             ai.EventItemMatterType,
				ExternalSourceID: strconv.Itoa(ai.EventItemMatterID),
			}
		}

		// Votes only exist for items that reached a decision.
		if ai.EventItemPassedFlagName != "" {
			votes, err := s.legistarVotes(ctx, ai.EventItemID)
			if err == nil {
				item.Votes = votes
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *LegistarScraper) legistarVotes(ctx context.Context, eventItemID int) ([]pipeline.RawVote, error) {
	uri := fmt.Sprintf("%s/%s/EventItems/%d/Votes", s.api, s.cfg.Client, eventItemID)

	var apiVotes []legistarVote
	if err := s.fetchJSON(ctx, uri, &apiVotes); err != nil {
		return nil, err
	}

	var votes []pipeline.RawVote
	for _, av := range apiVotes {
		if av.VotePersonName == "" {
			continue
		}
		votes = append(votes, pipeline.RawVote{
			PersonName:             av.VotePersonName,
			PersonExternalSourceID: strconv.Itoa(av.VotePersonID),
			Decision:               av.VoteValueName,
			ExternalSourceID:       strconv.Itoa(av.VoteID),
		})
	}
	return votes, nil
}

func (s *LegistarScraper) fetch(ctx context.Context, uri string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	body, _, err := s.httpc.Fetch(ctx, uri)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (s *LegistarScraper) fetchJSON(ctx context.Context, uri string, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	body, _, err := s.httpc.Fetch(ctx, uri)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", pipeline.ErrSourceFormatChanged, uri, err)
	}
	return nil
}

// matchLegistarEvent pairs a portal event with its API record by body
// name and calendar date.
func matchLegistarEvent(apiEvents []legistarEvent, ev pipeline.RawEvent) *legistarEvent {
	for i := range apiEvents {
		apiDate := strings.SplitN(apiEvents[i].EventDate, "T", 2)[0]
		if apiDate != ev.EventDateTime.Format("2006-01-02") {
			continue
		}
		if !strings.EqualFold(cleanString(apiEvents[i].EventBodyName), ev.Body) {
			continue
		}
		return &apiEvents[i]
	}
	return nil
}

// resolveRoute joins a possibly relative route with its sibling's parent.
func resolveRoute(completeSibling, route string) string {
	if route == "" {
		return ""
	}
	if strings.Contains(route, "://") {
		return route
	}
	sibling := strings.TrimSuffix(completeSibling, "/")
	route = strings.TrimPrefix(route, "/")
	parts := strings.Split(sibling, "/")
	parent := strings.Join(parts[:len(parts)-1], "/")
	return parent + "/" + route
}

// parsePortalDate parses the portal's M/D/YYYY date text.
func parsePortalDate(text string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(text), "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("expected M/D/YYYY")
	}
	month, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, err
	}
	day, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, err
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}

// cleanString removes layout whitespace and trailing punctuation from
// scraped text.
func cleanString(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\t", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".")
	return strings.TrimSpace(s)
}

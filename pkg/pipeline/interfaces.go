// Package pipeline contains the capability contracts for the event
// gather pipeline and the orchestrator that composes them into one run.
// Each capability is a behavioral contract: any module satisfying it is
// interchangeable, which is how the same orchestrator serves different
// cities and providers.
package pipeline

import (
	"context"
	"time"

	"council-gather/pkg/domain"
	"council-gather/pkg/transcript"
)

// TimeSpan is a half-open interval [Start, End) of event datetimes a
// scraper should cover.
type TimeSpan struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the span.
func (s TimeSpan) Contains(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

// RawEvent is a scraped event descriptor: just enough fields to seed a
// domain.Event and drive the rest of the pipeline. Descriptors are
// metadata only; media bytes are fetched lazily per candidate.
type RawEvent struct {
	ExternalSourceID     string
	Body                 string
	BodyExternalSourceID string
	EventDateTime        time.Time
	SourceURI            string
	VideoURI             string
	CaptionURI           string
	AgendaURI            string
	MinutesURI           string
	ThumbnailURI         string
	MinutesItems         []RawMinutesItem
}

// RawMinutesItem is a scraped agenda/minutes entry.
type RawMinutesItem struct {
	Name             string
	Description      string
	ExternalSourceID string
	Decision         string
	Matter           *RawMatter
	Votes            []RawVote
}

// RawMatter is a scraped legislative item reference.
type RawMatter struct {
	Name             string
	Title            string
	Type             string
	ExternalSourceID string
}

// RawVote is one scraped person/decision pair on a minutes item.
type RawVote struct {
	PersonName             string
	PersonExternalSourceID string
	Decision               string
	ExternalSourceID       string
}

// EventScraper produces event descriptors for a requested time span
// from one municipality's source. Implementations wrap failures in
// ErrSourceUnavailable or ErrSourceFormatChanged.
type EventScraper interface {
	Events(ctx context.Context, span TimeSpan) ([]RawEvent, error)
}

// Artifact is a derived binary plus its content type.
type Artifact struct {
	Bytes       []byte
	ContentType string
}

// AudioSplitter derives an audio artifact from a video URI.
// Implementations wrap failures in ErrMediaExtraction.
type AudioSplitter interface {
	Split(ctx context.Context, videoURI string) (Artifact, error)
}

// TranscribeRequest carries the inputs a speech recognition backend may
// use. AudioURI points at staged audio; CaptionURI, when set, points at
// source-published captions the model may return verbatim instead of
// recognizing speech. Phrases hint domain vocabulary to the recognizer.
type TranscribeRequest struct {
	AudioURI   string
	CaptionURI string
	Phrases    []string
}

// SpeechRecognitionModel turns a transcribe request into one or more
// normalized transcript payloads. Implementations wrap transient
// failures in ErrTranscription and quota exhaustion in
// ErrTranscriptionQuota.
type SpeechRecognitionModel interface {
	Transcribe(ctx context.Context, req TranscribeRequest) ([]transcript.Payload, error)
}

// FileStore is content-addressed object storage. Store is idempotent
// for identical bytes under the same key. Implementations wrap failures
// in ErrStorage and unknown keys in ErrFileNotFound.
type FileStore interface {
	Store(ctx context.Context, key string, data []byte, contentType string) (uri string, err error)
	GetURI(ctx context.Context, key string) (string, error)
}

// Stager persists a binary artifact content-addressed: identical bytes
// always resolve to the same File record, and re-staging them is a
// no-op that returns the existing record.
type Stager interface {
	Stage(ctx context.Context, filename string, data []byte, contentType string) (*domain.File, error)
}

// Fetcher retrieves a remote resource's bytes, used for thumbnails and
// other small source-published artifacts.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (data []byte, contentType string, err error)
}

// Database is the shared document store. It exclusively owns persisted
// entity state. Lookups return (nil, nil) when nothing matches. Upserts
// are last-write-wins per field except list-valued relations, which are
// unioned, never truncated; they are safe under concurrent writers to
// different ids and serialize concurrent writers to the same id,
// surfacing ErrMergeConflict when the store detects a lost update.
type Database interface {
	GetEventByID(ctx context.Context, id string) (*domain.Event, error)
	GetEventByExternalID(ctx context.Context, externalSourceID string) (*domain.Event, error)
	GetEventByVideoURI(ctx context.Context, videoURI string) (*domain.Event, error)
	GetFile(ctx context.Context, id string) (*domain.File, error)
	GetTranscriptForEvent(ctx context.Context, eventID string) (*domain.Transcript, error)

	UpsertEvent(ctx context.Context, event *domain.Event) (*domain.Event, error)
	UpsertTranscript(ctx context.Context, tr *domain.Transcript) (*domain.Transcript, error)
	UpsertFile(ctx context.Context, file *domain.File) (*domain.File, error)
	UpsertBody(ctx context.Context, body *domain.Body) (*domain.Body, error)
	UpsertPerson(ctx context.Context, person *domain.Person) (*domain.Person, error)
	UpsertMatter(ctx context.Context, matter *domain.Matter) (*domain.Matter, error)
	UpsertMinutesItem(ctx context.Context, item *domain.MinutesItem) (*domain.MinutesItem, error)
	UpsertVote(ctx context.Context, vote *domain.Vote) (*domain.Vote, error)
	UpsertRun(ctx context.Context, run *domain.Run) (*domain.Run, error)

	ListEvents(ctx context.Context) ([]domain.Event, error)
	ListIDs(ctx context.Context, kind domain.Kind) ([]string, error)
}

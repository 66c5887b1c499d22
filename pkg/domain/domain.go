package domain

import "time"

// Kind names the document collections in the shared store.
type Kind string

const (
	KindEvent           Kind = "event"
	KindTranscript      Kind = "transcript"
	KindFile            Kind = "file"
	KindBody            Kind = "body"
	KindPerson          Kind = "person"
	KindMatter          Kind = "matter"
	KindMinutesItem     Kind = "minutes_item"
	KindMinutesItemType Kind = "minutes_item_type"
	KindVote            Kind = "vote"
	KindSeat            Kind = "seat"
	KindRole            Kind = "role"
	KindRun             Kind = "run"
)

// Ref is an abbreviated reference to another document, enough to render
// the relation without a second lookup.
type Ref struct {
	ID   string `bson:"id" json:"id"`
	Name string `bson:"name" json:"name"`
}

// Event represents one real occurrence of a governing body's session.
//
// Exactly one Event exists per real-world occurrence: re-observing the
// same source event updates the existing record in place.
type Event struct {
	ID            string    `bson:"id" json:"id"`
	Body          Ref       `bson:"body" json:"body"`
	EventDateTime time.Time `bson:"event_datetime" json:"event_datetime"`

	// VideoURI is empty for events whose source published no recording.
	VideoURI   string `bson:"video_uri,omitempty" json:"video_uri,omitempty"`
	CaptionURI string `bson:"caption_uri,omitempty" json:"caption_uri,omitempty"`
	AgendaURI  string `bson:"agenda_uri,omitempty" json:"agenda_uri,omitempty"`
	MinutesURI string `bson:"minutes_uri,omitempty" json:"minutes_uri,omitempty"`

	ThumbnailStaticFile Ref `bson:"thumbnail_static_file,omitempty" json:"thumbnail_static_file,omitempty"`
	ThumbnailHoverFile  Ref `bson:"thumbnail_hover_file,omitempty" json:"thumbnail_hover_file,omitempty"`

	// Keywords are filled by the downstream indexing pipeline, never by
	// the gather pipeline.
	Keywords []string `bson:"keywords,omitempty" json:"keywords,omitempty"`

	Matters      []Ref `bson:"matters,omitempty" json:"matters,omitempty"`
	MinutesItems []Ref `bson:"minutes_items,omitempty" json:"minutes_items,omitempty"`
	People       []Ref `bson:"people,omitempty" json:"people,omitempty"`

	// ExternalSourceID is the upstream system's own identifier for this
	// event (e.g., a Legistar event id) and drives deduplication.
	ExternalSourceID string `bson:"external_source_id,omitempty" json:"external_source_id,omitempty"`

	Created time.Time `bson:"created" json:"created"`
	Updated time.Time `bson:"updated" json:"updated"`
}

// Transcript is the single authoritative transcript for an Event (1:1).
// Reprocessing that yields a higher-fidelity format supersedes the
// stored record rather than adding a second one.
type Transcript struct {
	ID         string    `bson:"id" json:"id"`
	EventID    string    `bson:"event_id" json:"event_id"`
	FileID     string    `bson:"file_id" json:"file_id"`
	Format     string    `bson:"format" json:"format"`
	Confidence float64   `bson:"confidence" json:"confidence"`
	Created    time.Time `bson:"created" json:"created"`
}

// File links a content identifier to its storage location. The ID is a
// digest of the file bytes, so identical content always maps to the
// same record.
type File struct {
	ID          string    `bson:"id" json:"id"`
	URI         string    `bson:"uri" json:"uri"`
	Filename    string    `bson:"filename" json:"filename"`
	ContentType string    `bson:"content_type,omitempty" json:"content_type,omitempty"`
	Description string    `bson:"description,omitempty" json:"description,omitempty"`
	Created     time.Time `bson:"created" json:"created"`
}

// Body is a governing body (council, committee, commission).
type Body struct {
	ID               string    `bson:"id" json:"id"`
	Name             string    `bson:"name" json:"name"`
	Description      string    `bson:"description,omitempty" json:"description,omitempty"`
	ExternalSourceID string    `bson:"external_source_id,omitempty" json:"external_source_id,omitempty"`
	Created          time.Time `bson:"created" json:"created"`
	Updated          time.Time `bson:"updated" json:"updated"`
}

// Person is a council member or other official appearing in event data.
// The gather pipeline only creates the minimal stub needed to satisfy
// an Event's relations; enrichment happens elsewhere.
type Person struct {
	ID               string    `bson:"id" json:"id"`
	Name             string    `bson:"name" json:"name"`
	Email            string    `bson:"email,omitempty" json:"email,omitempty"`
	Phone            string    `bson:"phone,omitempty" json:"phone,omitempty"`
	Website          string    `bson:"website,omitempty" json:"website,omitempty"`
	PictureFile      Ref       `bson:"picture_file,omitempty" json:"picture_file,omitempty"`
	ExternalSourceID string    `bson:"external_source_id,omitempty" json:"external_source_id,omitempty"`
	Created          time.Time `bson:"created" json:"created"`
	Updated          time.Time `bson:"updated" json:"updated"`
}

// Matter is a legislative item: a bill, resolution, or appointment.
type Matter struct {
	ID               string    `bson:"id" json:"id"`
	Name             string    `bson:"name" json:"name"`
	Title            string    `bson:"title,omitempty" json:"title,omitempty"`
	MatterType       Ref       `bson:"matter_type,omitempty" json:"matter_type,omitempty"`
	Status           string    `bson:"status,omitempty" json:"status,omitempty"`
	ExternalSourceID string    `bson:"external_source_id,omitempty" json:"external_source_id,omitempty"`
	Created          time.Time `bson:"created" json:"created"`
	Updated          time.Time `bson:"updated" json:"updated"`
}

// MinutesItem is any agenda or minutes entry; it may or may not refer
// to a Matter.
type MinutesItem struct {
	ID               string    `bson:"id" json:"id"`
	Name             string    `bson:"name" json:"name"`
	Description      string    `bson:"description,omitempty" json:"description,omitempty"`
	Type             Ref       `bson:"type,omitempty" json:"type,omitempty"`
	Matter           Ref       `bson:"matter,omitempty" json:"matter,omitempty"`
	ExternalSourceID string    `bson:"external_source_id,omitempty" json:"external_source_id,omitempty"`
	Created          time.Time `bson:"created" json:"created"`
}

// MinutesItemType categorizes minutes items (motion, public comment, ...).
type MinutesItemType struct {
	ID      string    `bson:"id" json:"id"`
	Name    string    `bson:"name" json:"name"`
	Created time.Time `bson:"created" json:"created"`
}

// Vote records one person's decision on one minutes item at one event.
type Vote struct {
	ID               string    `bson:"id" json:"id"`
	Person           Ref       `bson:"person" json:"person"`
	EventID          string    `bson:"event_id" json:"event_id"`
	MinutesItem      Ref       `bson:"minutes_item" json:"minutes_item"`
	Decision         string    `bson:"decision,omitempty" json:"decision,omitempty"`
	ExternalSourceID string    `bson:"external_source_id,omitempty" json:"external_source_id,omitempty"`
	Created          time.Time `bson:"created" json:"created"`
}

// Seat is an electoral position a Person can hold.
type Seat struct {
	ID            string    `bson:"id" json:"id"`
	Name          string    `bson:"name" json:"name"`
	ElectoralArea string    `bson:"electoral_area,omitempty" json:"electoral_area,omitempty"`
	Image         Ref       `bson:"image,omitempty" json:"image,omitempty"`
	Created       time.Time `bson:"created" json:"created"`
}

// Role ties a Person to a Body and Seat for a period of time.
type Role struct {
	ID      string    `bson:"id" json:"id"`
	Title   string    `bson:"title" json:"title"`
	Person  Ref       `bson:"person" json:"person"`
	Body    Ref       `bson:"body,omitempty" json:"body,omitempty"`
	Seat    Ref       `bson:"seat,omitempty" json:"seat,omitempty"`
	Start   time.Time `bson:"start,omitempty" json:"start,omitempty"`
	End     time.Time `bson:"end,omitempty" json:"end,omitempty"`
	Created time.Time `bson:"created" json:"created"`
}

// Run records one pipeline invocation and its outcome, for auditing
// repeated gathers against the same store.
type Run struct {
	ID         string    `bson:"id" json:"id"`
	Begin      time.Time `bson:"begin" json:"begin"`
	Completed  time.Time `bson:"completed" json:"completed"`
	Discovered int       `bson:"discovered" json:"discovered"`
	Skipped    int       `bson:"skipped" json:"skipped"`
	Merged     int       `bson:"merged" json:"merged"`
	Failed     int       `bson:"failed" json:"failed"`
	Failures   []string  `bson:"failures,omitempty" json:"failures,omitempty"`
}

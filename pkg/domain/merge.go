package domain

import "time"

// UnionRefs merges two reference lists, de-duplicating by entity id.
// Entries from existing keep their position; new entries are appended
// in observed order. A ref with an empty id is dropped.
func UnionRefs(existing, incoming []Ref) []Ref {
	seen := make(map[string]bool, len(existing))
	merged := make([]Ref, 0, len(existing)+len(incoming))

	for _, r := range existing {
		if r.ID == "" || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		merged = append(merged, r)
	}
	for _, r := range incoming {
		if r.ID == "" || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		merged = append(merged, r)
	}

	if len(merged) == 0 {
		return nil
	}
	return merged
}

// MergeEvent folds a newly observed event into a previously stored one.
// Scalar fields are last-write-wins, but an empty incoming value never
// clobbers a stored one. List-valued relations are unioned by id and
// never truncated. The stored creation timestamp is write-once.
func MergeEvent(existing, incoming *Event) *Event {
	if existing == nil {
		return incoming
	}
	if incoming == nil {
		return existing
	}

	merged := *existing

	if incoming.Body.ID != "" {
		merged.Body = incoming.Body
	}
	if !incoming.EventDateTime.IsZero() {
		merged.EventDateTime = incoming.EventDateTime
	}
	if incoming.VideoURI != "" {
		merged.VideoURI = incoming.VideoURI
	}
	if incoming.CaptionURI != "" {
		merged.CaptionURI = incoming.CaptionURI
	}
	if incoming.AgendaURI != "" {
		merged.AgendaURI = incoming.AgendaURI
	}
	if incoming.MinutesURI != "" {
		merged.MinutesURI = incoming.MinutesURI
	}
	if incoming.ThumbnailStaticFile.ID != "" {
		merged.ThumbnailStaticFile = incoming.ThumbnailStaticFile
	}
	if incoming.ThumbnailHoverFile.ID != "" {
		merged.ThumbnailHoverFile = incoming.ThumbnailHoverFile
	}
	if incoming.ExternalSourceID != "" {
		merged.ExternalSourceID = incoming.ExternalSourceID
	}

	merged.Matters = UnionRefs(existing.Matters, incoming.Matters)
	merged.MinutesItems = UnionRefs(existing.MinutesItems, incoming.MinutesItems)
	merged.People = UnionRefs(existing.People, incoming.People)

	merged.Updated = time.Now().UTC()
	return &merged
}

// HasNewSignal reports whether a freshly scraped event carries anything
// the stored record does not already have. A candidate without new
// signal is skipped without touching media or transcription.
func HasNewSignal(stored, observed *Event) bool {
	if stored == nil {
		return true
	}
	if observed.VideoURI != "" && observed.VideoURI != stored.VideoURI {
		return true
	}
	if observed.CaptionURI != "" && observed.CaptionURI != stored.CaptionURI {
		return true
	}
	if observed.AgendaURI != "" && observed.AgendaURI != stored.AgendaURI {
		return true
	}
	if observed.MinutesURI != "" && observed.MinutesURI != stored.MinutesURI {
		return true
	}
	for _, m := range observed.Matters {
		if !containsRef(stored.Matters, m.ID) {
			return true
		}
	}
	for _, mi := range observed.MinutesItems {
		if !containsRef(stored.MinutesItems, mi.ID) {
			return true
		}
	}
	return false
}

func containsRef(refs []Ref, id string) bool {
	for _, r := range refs {
		if r.ID == id {
			return true
		}
	}
	return false
}

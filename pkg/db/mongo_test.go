package db

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"council-gather/pkg/domain"
)

func TestToFieldsUsesWireNames(t *testing.T) {
	ev := &domain.Event{
		ID:               "event-1",
		Body:             domain.Ref{ID: "body-1", Name: "City Council"},
		EventDateTime:    time.Date(2026, 1, 5, 19, 0, 0, 0, time.UTC),
		VideoURI:         "https://video.example/1.mp4",
		ExternalSourceID: "4053",
		Created:          time.Now(),
	}

	fields, err := toFields(ev)
	if err != nil {
		t.Fatalf("toFields: %v", err)
	}
	for _, key := range []string{"id", "body", "event_datetime", "video_uri", "external_source_id", "created"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("expected field %q in %v", key, fields)
		}
	}
	if fields["external_source_id"] != "4053" {
		t.Errorf("external_source_id = %v, want 4053", fields["external_source_id"])
	}
}

func TestIndexModelsEnforceUpsertKeys(t *testing.T) {
	// Every written collection needs a unique index on its upsert
	// filter, otherwise two writers racing the same new identifier both
	// insert instead of one surfacing a duplicate-key conflict.
	indexedKeys := func(kind domain.Kind) map[string]bool {
		keys := map[string]bool{}
		for _, model := range indexModels(kind) {
			if model.Options == nil || model.Options.Unique == nil || !*model.Options.Unique {
				t.Errorf("kind %s has a non-unique index model", kind)
				continue
			}
			for _, elem := range model.Keys.(bson.D) {
				keys[elem.Key] = true
			}
		}
		return keys
	}

	for _, kind := range writtenKinds {
		if !indexedKeys(kind)["id"] {
			t.Errorf("kind %s is missing the unique id index", kind)
		}
	}
	if !indexedKeys(domain.KindEvent)["external_source_id"] {
		t.Error("events are missing the unique external_source_id index")
	}
	if !indexedKeys(domain.KindTranscript)["event_id"] {
		t.Error("transcripts are missing the unique event_id index")
	}
}

func TestToFieldsOmitsEmptyOptionals(t *testing.T) {
	fields, err := toFields(&domain.Event{ID: "event-2"})
	if err != nil {
		t.Fatalf("toFields: %v", err)
	}
	// Empty optional fields must be absent so an upsert never clobbers
	// values written by an earlier, richer observation.
	for _, key := range []string{"video_uri", "caption_uri", "matters", "minutes_items", "people"} {
		if _, ok := fields[key]; ok {
			t.Errorf("empty field %q should be omitted, got %v", key, fields[key])
		}
	}
}

package filestore

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"council-gather/pkg/pipeline"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}
	ctx := context.Background()

	uri, err := store.Store(ctx, "abc123_transcript.json", []byte(`{"format":"raw"}`), "application/json")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !strings.HasPrefix(uri, "file://") {
		t.Errorf("uri = %q, want file:// scheme", uri)
	}

	got, err := store.GetURI(ctx, "abc123_transcript.json")
	if err != nil {
		t.Fatalf("GetURI: %v", err)
	}
	if got != uri {
		t.Errorf("GetURI = %q, want %q", got, uri)
	}

	data, err := os.ReadFile(strings.TrimPrefix(uri, "file://"))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != `{"format":"raw"}` {
		t.Errorf("stored bytes = %q", data)
	}
}

func TestLocalStoreMissingKey(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}

	_, err = store.GetURI(context.Background(), "deadbeef_audio.wav")
	if !errors.Is(err, pipeline.ErrFileNotFound) {
		t.Errorf("err = %v, want ErrFileNotFound", err)
	}
}

func TestLocalStoreFansOutByPrefix(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalFileStore(dir)
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}

	uri, err := store.Store(context.Background(), "ffee00_thumb.png", []byte{1, 2, 3}, "image/png")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !strings.Contains(uri, "/ff/") {
		t.Errorf("uri = %q, want key-prefix subdirectory", uri)
	}
}

func TestLocalStoreOverwriteIsIdempotent(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}
	ctx := context.Background()

	first, err := store.Store(ctx, "cafe_audio.wav", []byte("same bytes"), "audio/wav")
	if err != nil {
		t.Fatalf("first Store: %v", err)
	}
	second, err := store.Store(ctx, "cafe_audio.wav", []byte("same bytes"), "audio/wav")
	if err != nil {
		t.Fatalf("second Store: %v", err)
	}
	if first != second {
		t.Errorf("uris differ: %q vs %q", first, second)
	}
}

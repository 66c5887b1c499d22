// Package replication copies gathered documents between deployment
// stores, for moving a city from one database backend to another.
package replication

import (
	"context"
	"fmt"
	"log"
	"sync"

	"council-gather/pkg/domain"
)

// Source is the store being migrated from.
type Source interface {
	ListEvents(ctx context.Context) ([]domain.Event, error)
	GetTranscriptForEvent(ctx context.Context, eventID string) (*domain.Transcript, error)
	GetFile(ctx context.Context, id string) (*domain.File, error)
}

// Destination is the store being migrated to.
type Destination interface {
	ListIDs(ctx context.Context, kind domain.Kind) ([]string, error)
	UpsertEvent(ctx context.Context, ev *domain.Event) (*domain.Event, error)
	UpsertTranscript(ctx context.Context, tr *domain.Transcript) (*domain.Transcript, error)
	UpsertFile(ctx context.Context, f *domain.File) (*domain.File, error)
}

// Replicator copies events, their transcripts, and transcript file
// records from one store to another.
//
// This is intentionally a one-shot, "copy everything" flow: events
// already present in the destination are skipped, so re-running after a
// partial failure picks up where it left off.
type Replicator struct {
	source  Source
	dest    Destination
	workers int
}

// Config wires the replication dependencies.
type Config struct {
	Source      Source
	Destination Destination
	// Workers bounds parallel event copies. Zero means 5.
	Workers int
}

func NewReplicator(cfg Config) (*Replicator, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("source store is required")
	}
	if cfg.Destination == nil {
		return nil, fmt.Errorf("destination store is required")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 5
	}
	return &Replicator{source: cfg.Source, dest: cfg.Destination, workers: workers}, nil
}

// Replicate copies every event the destination does not already have.
// Returns how many events were copied.
func (r *Replicator) Replicate(ctx context.Context) (int, error) {
	events, err := r.source.ListEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("list source events: %w", err)
	}

	existing, err := r.existingEventIDs(ctx)
	if err != nil {
		return 0, err
	}

	var toCopy []domain.Event
	for _, ev := range events {
		if !existing[ev.ID] {
			toCopy = append(toCopy, ev)
		}
	}
	log.Printf("Replicating %d of %d events (%d already present)", len(toCopy), len(events), len(events)-len(toCopy))

	jobs := make(chan domain.Event, len(toCopy))
	for _, ev := range toCopy {
		jobs <- ev
	}
	close(jobs)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		copied   int
		firstErr error
	)
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range jobs {
				if ctx.Err() != nil {
					return
				}
				err := r.copyEvent(ctx, ev)
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
				} else {
					copied++
					if copied%100 == 0 {
						log.Printf("Progress: copied %d/%d events", copied, len(toCopy))
					}
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return copied, firstErr
	}
	if err := ctx.Err(); err != nil {
		return copied, err
	}
	log.Printf("Replication complete: copied %d events", copied)
	return copied, nil
}

func (r *Replicator) existingEventIDs(ctx context.Context) (map[string]bool, error) {
	ids, err := r.dest.ListIDs(ctx, domain.KindEvent)
	if err != nil {
		return nil, fmt.Errorf("list destination events: %w", err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// copyEvent copies one event and whatever transcript and file records
// hang off it. The file record goes first so a partially copied event
// never references a missing file in the destination.
func (r *Replicator) copyEvent(ctx context.Context, ev domain.Event) error {
	tr, err := r.source.GetTranscriptForEvent(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("read transcript for event %s: %w", ev.ID, err)
	}

	if tr != nil && tr.FileID != "" {
		file, err := r.source.GetFile(ctx, tr.FileID)
		if err != nil {
			return fmt.Errorf("read file %s: %w", tr.FileID, err)
		}
		if file != nil {
			if _, err := r.dest.UpsertFile(ctx, file); err != nil {
				return fmt.Errorf("copy file %s: %w", file.ID, err)
			}
		}
	}
	if tr != nil {
		if _, err := r.dest.UpsertTranscript(ctx, tr); err != nil {
			return fmt.Errorf("copy transcript for event %s: %w", ev.ID, err)
		}
	}
	if _, err := r.dest.UpsertEvent(ctx, &ev); err != nil {
		return fmt.Errorf("copy event %s: %w", ev.ID, err)
	}
	return nil
}

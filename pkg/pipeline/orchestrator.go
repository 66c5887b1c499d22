package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"council-gather/pkg/domain"
	"council-gather/pkg/transcript"
)

// State is a candidate's position in the per-event state machine.
type State string

const (
	StateDiscovered       State = "DISCOVERED"
	StateIdentityResolved State = "IDENTITY_RESOLVED"
	StateSkipped          State = "SKIPPED"
	StateMediaPending     State = "MEDIA_PENDING"
	StateTranscribed      State = "TRANSCRIBED"
	StateMerged           State = "MERGED"
	StateDone             State = "DONE"
	StateFailed           State = "FAILED"
)

// Options tunes one orchestrator instance. The zero value gets sensible
// defaults from NewOrchestrator.
type Options struct {
	// Workers bounds how many candidates are processed in parallel.
	Workers int
	// MaxRetries bounds retryable stage attempts per candidate.
	MaxRetries int
	// RetryDelay is the base backoff between attempts; it doubles per retry.
	RetryDelay time.Duration
}

// RunSummary is the user-visible outcome of one pipeline invocation.
type RunSummary struct {
	Discovered int
	Skipped    int
	Merged     int
	Failed     int
	Failures   []string

	mu sync.Mutex
}

func (s *RunSummary) recordSkipped() {
	s.mu.Lock()
	s.Skipped++
	s.mu.Unlock()
}

func (s *RunSummary) recordMerged() {
	s.mu.Lock()
	s.Merged++
	s.mu.Unlock()
}

func (s *RunSummary) recordFailed(candidate string, err error) {
	s.mu.Lock()
	s.Failed++
	s.Failures = append(s.Failures, fmt.Sprintf("%s: %v", candidate, err))
	s.mu.Unlock()
}

// Orchestrator composes the capability modules into a single gather
// run. All dependencies are interface-typed and injected at
// construction; any module satisfying its contract is interchangeable.
type Orchestrator struct {
	scraper      EventScraper
	splitter     AudioSplitter
	srModel      SpeechRecognitionModel
	captionModel SpeechRecognitionModel // optional; tried before srModel
	stager       Stager
	fetcher      Fetcher // optional; used for thumbnails
	db           Database
	opts         Options

	// quotaExceeded suppresses further transcription for the rest of
	// the run once any candidate hits the provider quota.
	quotaExceeded atomic.Bool
}

// Deps bundles the capability modules for NewOrchestrator.
type Deps struct {
	Scraper      EventScraper
	Splitter     AudioSplitter
	SRModel      SpeechRecognitionModel
	CaptionModel SpeechRecognitionModel
	Stager       Stager
	Fetcher      Fetcher
	Database     Database
}

// NewOrchestrator builds an orchestrator. Scraper, Stager and Database
// are required; the media modules may be nil, in which case candidates
// are merged from scraped metadata only.
func NewOrchestrator(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Scraper == nil {
		return nil, fmt.Errorf("event scraper is required")
	}
	if deps.Stager == nil {
		return nil, fmt.Errorf("stager is required")
	}
	if deps.Database == nil {
		return nil, fmt.Errorf("database is required")
	}

	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}

	return &Orchestrator{
		scraper:      deps.Scraper,
		splitter:     deps.Splitter,
		srModel:      deps.SRModel,
		captionModel: deps.CaptionModel,
		stager:       deps.Stager,
		fetcher:      deps.Fetcher,
		db:           deps.Database,
		opts:         opts,
	}, nil
}

// Run executes one full gather cycle over the given span: discover
// candidates, process each through its state machine, and report the
// aggregate outcome. One candidate's failure never aborts the run;
// cancellation stops launching new candidates and lets in-flight ones
// reach a terminal state.
func (o *Orchestrator) Run(ctx context.Context, span TimeSpan) (*RunSummary, error) {
	begin := time.Now().UTC()
	summary := &RunSummary{}

	var events []RawEvent
	err := o.withRetry(ctx, "scrape", func() error {
		var scrapeErr error
		events, scrapeErr = o.scraper.Events(ctx, span)
		return scrapeErr
	})
	if err != nil {
		// A run that died at discovery is still a run; record it so the
		// outcome is visible next to the successful ones.
		summary.recordFailed("discover", err)
		o.recordRun(ctx, begin, summary)
		return summary, fmt.Errorf("discover events: %w", err)
	}

	summary.Discovered = len(events)
	log.Printf("Run: discovered %d candidate events in [%s, %s)", len(events), span.Start.Format(time.RFC3339), span.End.Format(time.RFC3339))

	g := &errgroup.Group{}
	g.SetLimit(o.opts.Workers)

	for _, raw := range events {
		if ctx.Err() != nil {
			log.Printf("Run: cancelled, not launching remaining candidates")
			break
		}
		raw := raw
		g.Go(func() error {
			o.processCandidate(ctx, raw, summary)
			return nil
		})
	}
	_ = g.Wait()

	o.recordRun(ctx, begin, summary)
	log.Printf("Run: complete. discovered=%d skipped=%d merged=%d failed=%d", summary.Discovered, summary.Skipped, summary.Merged, summary.Failed)
	return summary, ctx.Err()
}

// ProcessOne runs the state machine for a single descriptor, outside a
// scraped batch. Used by the single-event command.
func (o *Orchestrator) ProcessOne(ctx context.Context, raw RawEvent) (*RunSummary, error) {
	summary := &RunSummary{Discovered: 1}
	o.processCandidate(ctx, raw, summary)
	if summary.Failed > 0 {
		return summary, fmt.Errorf("candidate failed: %v", summary.Failures)
	}
	return summary, nil
}

// processCandidate drives one event candidate from DISCOVERED to a
// terminal state. All errors are caught here at the state machine
// boundary and recorded against the candidate.
func (o *Orchestrator) processCandidate(ctx context.Context, raw RawEvent, summary *RunSummary) {
	key := candidateKey(raw)
	transition(key, StateDiscovered)

	fail := func(err error) {
		transition(key, StateFailed)
		log.Printf("Candidate %s: %v", key, err)
		summary.recordFailed(key, err)
	}

	stored, err := o.resolveIdentity(ctx, raw)
	if err != nil {
		fail(fmt.Errorf("resolve identity: %w", err))
		return
	}
	transition(key, StateIdentityResolved)

	observed := o.eventFromRaw(raw, stored)

	// SKIPPED is terminal and counts as success: nothing new observed.
	if stored != nil && !domain.HasNewSignal(stored, observed) {
		transition(key, StateSkipped)
		summary.recordSkipped()
		return
	}

	// Events without video go straight to the merge with scraped
	// metadata only; no SpeechRecognitionModel call is made.
	var produced *producedTranscript
	if raw.VideoURI != "" && o.srReady() {
		transition(key, StateMediaPending)
		produced, err = o.transcribe(ctx, key, raw)
		if err != nil {
			if errors.Is(err, ErrTranscriptionQuota) {
				o.quotaExceeded.Store(true)
				log.Printf("Candidate %s: transcription quota exceeded, halting transcription for this run", key)
			}
			fail(fmt.Errorf("transcribe: %w", err))
			return
		}
		transition(key, StateTranscribed)
	}

	// The whole merge is one logical unit, retried as a whole on
	// conflict; upserts are safely repeatable.
	err = o.withRetry(ctx, "merge "+key, func() error {
		// Re-read stored state on every attempt so a conflicting writer's
		// fields are observed before re-merging.
		stored, err := o.resolveIdentity(ctx, raw)
		if err != nil {
			return err
		}
		return o.merge(ctx, raw, stored, produced)
	})
	if err != nil {
		fail(fmt.Errorf("merge: %w", err))
		return
	}
	transition(key, StateMerged)

	transition(key, StateDone)
	summary.recordMerged()
}

func transition(key string, state State) {
	log.Printf("Candidate %s: -> %s", key, state)
}

// srReady reports whether transcription can still be attempted.
func (o *Orchestrator) srReady() bool {
	if o.quotaExceeded.Load() {
		return false
	}
	return o.srModel != nil || o.captionModel != nil
}

// resolveIdentity finds the previously stored Event for a descriptor,
// preferring the upstream system's own identifier, then the video URI,
// then the deterministic stub id for descriptors carrying neither, so
// an agenda-only event re-gathered next run resolves to the same
// record instead of inserting a duplicate.
func (o *Orchestrator) resolveIdentity(ctx context.Context, raw RawEvent) (*domain.Event, error) {
	if raw.ExternalSourceID != "" {
		ev, err := o.db.GetEventByExternalID(ctx, raw.ExternalSourceID)
		if err != nil || ev != nil {
			return ev, err
		}
	}
	if raw.VideoURI != "" {
		return o.db.GetEventByVideoURI(ctx, raw.VideoURI)
	}
	return o.db.GetEventByID(ctx, eventStubID(raw))
}

// eventStubID derives the identifier for an event whose source
// publishes neither an id nor a video URI, keyed on body and date: the
// same occurrence scraped again maps to the same document.
func eventStubID(raw RawEvent) string {
	return stubID(domain.KindEvent, "", raw.Body+"/"+raw.EventDateTime.UTC().Format(time.RFC3339))
}

type producedTranscript struct {
	payload transcript.Payload
	encoded []byte
	rawEnc  []byte
}

// transcribe runs the media stages: captions first when the source
// publishes them, audio split plus speech recognition otherwise.
func (o *Orchestrator) transcribe(ctx context.Context, key string, raw RawEvent) (*producedTranscript, error) {
	phrases := phraseHints(raw)

	// A source-published caption transcript beats rederiving one.
	if o.captionModel != nil && raw.CaptionURI != "" {
		payloads, err := o.captionModel.Transcribe(ctx, TranscribeRequest{CaptionURI: raw.CaptionURI, Phrases: phrases})
		if err == nil {
			return o.finalizeTranscript(payloads)
		}
		if errors.Is(err, ErrTranscriptionQuota) {
			return nil, err
		}
		log.Printf("Candidate %s: caption transcription failed, falling back to audio: %v", key, err)
	}

	if o.splitter == nil || o.srModel == nil {
		return nil, fmt.Errorf("%w: no audio transcription modules configured", ErrTranscription)
	}

	// MEDIA_PENDING: derive and stage audio. Staging is content
	// addressed, so re-splitting the same video re-uses the stored
	// artifact instead of uploading a second copy.
	var artifact Artifact
	err := o.withRetry(ctx, "split "+key, func() error {
		var splitErr error
		artifact, splitErr = o.splitter.Split(ctx, raw.VideoURI)
		return splitErr
	})
	if err != nil {
		return nil, err
	}

	audioFile, err := o.stager.Stage(ctx, key+"_audio.wav", artifact.Bytes, artifact.ContentType)
	if err != nil {
		return nil, err
	}

	var payloads []transcript.Payload
	err = o.withRetry(ctx, "transcribe "+key, func() error {
		var trErr error
		payloads, trErr = o.srModel.Transcribe(ctx, TranscribeRequest{AudioURI: audioFile.URI, Phrases: phrases})
		return trErr
	})
	if err != nil {
		return nil, err
	}

	return o.finalizeTranscript(payloads)
}

// finalizeTranscript selects the authoritative representation and
// encodes both it and the always-available raw form.
func (o *Orchestrator) finalizeTranscript(payloads []transcript.Payload) (*producedTranscript, error) {
	best, raw, err := transcript.Select(payloads)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscription, err)
	}

	encoded, err := best.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: encode selected payload: %v", ErrTranscription, err)
	}

	var rawEnc []byte
	if best.Format != transcript.FormatRaw {
		rawEnc, err = raw.Encode()
		if err != nil {
			return nil, fmt.Errorf("%w: encode raw payload: %v", ErrTranscription, err)
		}
	}

	return &producedTranscript{payload: best, encoded: encoded, rawEnc: rawEnc}, nil
}

// merge upserts the event, its related stub entities, and (when media
// was processed) the staged transcript, as one logical, repeatable
// unit. A storage failure blocks the dependent database write.
func (o *Orchestrator) merge(ctx context.Context, raw RawEvent, stored *domain.Event, produced *producedTranscript) error {
	observed := o.eventFromRaw(raw, stored)
	eventID := observed.ID

	if raw.Body != "" {
		if _, err := o.db.UpsertBody(ctx, &domain.Body{
			ID:               observed.Body.ID,
			Name:             raw.Body,
			ExternalSourceID: raw.BodyExternalSourceID,
			Created:          time.Now().UTC(),
			Updated:          time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("upsert body: %w", err)
		}
	}

	if err := o.mergeMinutesItems(ctx, raw, eventID); err != nil {
		return err
	}

	if raw.ThumbnailURI != "" && o.fetcher != nil {
		ref, err := o.stageThumbnail(ctx, raw)
		if err != nil {
			// Thumbnails are decorative; a fetch failure must not fail
			// the candidate.
			log.Printf("Candidate %s: thumbnail staging failed: %v", candidateKey(raw), err)
		} else {
			observed.ThumbnailStaticFile = ref
		}
	}

	merged := domain.MergeEvent(stored, observed)
	if _, err := o.db.UpsertEvent(ctx, merged); err != nil {
		return fmt.Errorf("upsert event: %w", err)
	}

	if produced != nil {
		if err := o.mergeTranscript(ctx, candidateKey(raw), eventID, produced); err != nil {
			return err
		}
	}
	return nil
}

// mergeMinutesItems upserts stub matters, minutes items, persons, and
// votes referenced by the descriptor.
func (o *Orchestrator) mergeMinutesItems(ctx context.Context, raw RawEvent, eventID string) error {
	now := time.Now().UTC()
	for _, mi := range raw.MinutesItems {
		miID := stubID(domain.KindMinutesItem, mi.ExternalSourceID, mi.Name)

		var matterRef domain.Ref
		if mi.Matter != nil && mi.Matter.Name != "" {
			matterRef = domain.Ref{
				ID:   stubID(domain.KindMatter, mi.Matter.ExternalSourceID, mi.Matter.Name),
				Name: mi.Matter.Name,
			}
			matter := &domain.Matter{
				ID:               matterRef.ID,
				Name:             mi.Matter.Name,
				Title:            mi.Matter.Title,
				ExternalSourceID: mi.Matter.ExternalSourceID,
				Created:          now,
				Updated:          now,
			}
			if mi.Matter.Type != "" {
				matter.MatterType = domain.Ref{ID: stubID(domain.KindMinutesItemType, "", mi.Matter.Type), Name: mi.Matter.Type}
			}
			if _, err := o.db.UpsertMatter(ctx, matter); err != nil {
				return fmt.Errorf("upsert matter %q: %w", mi.Matter.Name, err)
			}
		}

		if _, err := o.db.UpsertMinutesItem(ctx, &domain.MinutesItem{
			ID:               miID,
			Name:             mi.Name,
			Description:      mi.Description,
			Matter:           matterRef,
			ExternalSourceID: mi.ExternalSourceID,
			Created:          now,
		}); err != nil {
			return fmt.Errorf("upsert minutes item %q: %w", mi.Name, err)
		}

		for _, v := range mi.Votes {
			personRef := domain.Ref{
				ID:   stubID(domain.KindPerson, v.PersonExternalSourceID, v.PersonName),
				Name: v.PersonName,
			}
			if _, err := o.db.UpsertPerson(ctx, &domain.Person{
				ID:               personRef.ID,
				Name:             v.PersonName,
				ExternalSourceID: v.PersonExternalSourceID,
				Created:          now,
				Updated:          now,
			}); err != nil {
				return fmt.Errorf("upsert person %q: %w", v.PersonName, err)
			}

			voteID := stubID(domain.KindVote, v.ExternalSourceID, eventID+"/"+miID+"/"+personRef.ID)
			if _, err := o.db.UpsertVote(ctx, &domain.Vote{
				ID:               voteID,
				Person:           personRef,
				EventID:          eventID,
				MinutesItem:      domain.Ref{ID: miID, Name: mi.Name},
				Decision:         v.Decision,
				ExternalSourceID: v.ExternalSourceID,
				Created:          now,
			}); err != nil {
				return fmt.Errorf("upsert vote: %w", err)
			}
		}
	}
	return nil
}

// mergeTranscript stages the selected payload and supersedes the stored
// transcript only when the produced format outranks it.
func (o *Orchestrator) mergeTranscript(ctx context.Context, key, eventID string, produced *producedTranscript) error {
	existing, err := o.db.GetTranscriptForEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("lookup transcript: %w", err)
	}
	if existing != nil && !transcript.ShouldReplace(existing.Format, produced.payload.Format) {
		log.Printf("Candidate %s: stored transcript format %q already authoritative", key, existing.Format)
		return nil
	}

	// Keep the raw rendering alongside the finer one for consumers that
	// only want plain text.
	if len(produced.rawEnc) > 0 {
		if _, err := o.stager.Stage(ctx, key+"_raw_transcript.json", produced.rawEnc, "application/json"); err != nil {
			return err
		}
	}

	file, err := o.stager.Stage(ctx, fmt.Sprintf("%s_%s_transcript.json", key, produced.payload.Format), produced.encoded, "application/json")
	if err != nil {
		return err
	}

	tr := &domain.Transcript{
		ID:         uuid.NewString(),
		EventID:    eventID,
		FileID:     file.ID,
		Format:     string(produced.payload.Format),
		Confidence: produced.payload.Confidence,
		Created:    time.Now().UTC(),
	}
	if existing != nil {
		tr.ID = existing.ID
	}
	if _, err := o.db.UpsertTranscript(ctx, tr); err != nil {
		return fmt.Errorf("upsert transcript: %w", err)
	}
	return nil
}

func (o *Orchestrator) stageThumbnail(ctx context.Context, raw RawEvent) (domain.Ref, error) {
	data, contentType, err := o.fetcher.Fetch(ctx, raw.ThumbnailURI)
	if err != nil {
		return domain.Ref{}, err
	}
	file, err := o.stager.Stage(ctx, candidateKey(raw)+"_thumbnail", data, contentType)
	if err != nil {
		return domain.Ref{}, err
	}
	return domain.Ref{ID: file.ID, Name: file.Filename}, nil
}

// eventFromRaw builds the in-memory merge candidate for a descriptor.
// The stored event's id is reused so upserts update in place; an
// unseen descriptor without any source identifier gets its stub id so
// the next gather finds it.
func (o *Orchestrator) eventFromRaw(raw RawEvent, stored *domain.Event) *domain.Event {
	var id string
	switch {
	case stored != nil:
		id = stored.ID
	case raw.ExternalSourceID == "" && raw.VideoURI == "":
		id = eventStubID(raw)
	default:
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	ev := &domain.Event{
		ID:               id,
		EventDateTime:    raw.EventDateTime,
		VideoURI:         raw.VideoURI,
		CaptionURI:       raw.CaptionURI,
		AgendaURI:        raw.AgendaURI,
		MinutesURI:       raw.MinutesURI,
		ExternalSourceID: raw.ExternalSourceID,
		Created:          now,
		Updated:          now,
	}
	if raw.Body != "" || raw.BodyExternalSourceID != "" {
		ev.Body = domain.Ref{ID: stubID(domain.KindBody, raw.BodyExternalSourceID, raw.Body), Name: raw.Body}
	}

	for _, mi := range raw.MinutesItems {
		ev.MinutesItems = append(ev.MinutesItems, domain.Ref{
			ID:   stubID(domain.KindMinutesItem, mi.ExternalSourceID, mi.Name),
			Name: mi.Name,
		})
		if mi.Matter != nil && mi.Matter.Name != "" {
			ev.Matters = append(ev.Matters, domain.Ref{
				ID:   stubID(domain.KindMatter, mi.Matter.ExternalSourceID, mi.Matter.Name),
				Name: mi.Matter.Name,
			})
		}
		for _, v := range mi.Votes {
			ev.People = append(ev.People, domain.Ref{
				ID:   stubID(domain.KindPerson, v.PersonExternalSourceID, v.PersonName),
				Name: v.PersonName,
			})
		}
	}
	ev.Matters = domain.UnionRefs(ev.Matters, nil)
	ev.MinutesItems = domain.UnionRefs(ev.MinutesItems, nil)
	ev.People = domain.UnionRefs(ev.People, nil)
	return ev
}

// recordRun persists the run document, best effort.
func (o *Orchestrator) recordRun(ctx context.Context, begin time.Time, summary *RunSummary) {
	run := &domain.Run{
		ID:         uuid.NewString(),
		Begin:      begin,
		Completed:  time.Now().UTC(),
		Discovered: summary.Discovered,
		Skipped:    summary.Skipped,
		Merged:     summary.Merged,
		Failed:     summary.Failed,
		Failures:   summary.Failures,
	}
	if _, err := o.db.UpsertRun(ctx, run); err != nil {
		log.Printf("Run: could not record run document: %v", err)
	}
}

// withRetry runs fn up to MaxRetries times with doubling backoff,
// retrying only errors the taxonomy marks retryable.
func (o *Orchestrator) withRetry(ctx context.Context, label string, fn func() error) error {
	delay := o.opts.RetryDelay
	var err error
	for attempt := 1; attempt <= o.opts.MaxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !Retryable(err) || attempt == o.opts.MaxRetries {
			return err
		}
		log.Printf("%s: attempt %d/%d failed, retrying in %s: %v", label, attempt, o.opts.MaxRetries, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

// phraseHints collects minutes item names as recognition vocabulary.
func phraseHints(raw RawEvent) []string {
	phrases := make([]string, 0, len(raw.MinutesItems))
	for _, mi := range raw.MinutesItems {
		if mi.Name != "" {
			phrases = append(phrases, mi.Name)
		}
	}
	return phrases
}

// candidateKey derives a stable short key for logging and artifact
// filenames: the external source id when present, otherwise a digest of
// the video or source URI.
func candidateKey(raw RawEvent) string {
	if raw.ExternalSourceID != "" {
		return raw.ExternalSourceID
	}
	seed := raw.VideoURI
	if seed == "" {
		seed = raw.SourceURI
	}
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:16]
}

// stubID derives a stable identifier for a stub entity: the upstream
// id when present, otherwise a digest of kind and name so the same
// entity observed across runs merges instead of duplicating. Entities
// with neither get a random id.
func stubID(kind domain.Kind, externalSourceID, name string) string {
	if externalSourceID != "" {
		return string(kind) + "-" + externalSourceID
	}
	if name == "" {
		return uuid.NewString()
	}
	sum := sha256.Sum256([]byte(string(kind) + "/" + name))
	return string(kind) + "-" + hex.EncodeToString(sum[:])[:20]
}

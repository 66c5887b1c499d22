package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"council-gather/pkg/domain"
	"council-gather/pkg/transcript"
)

// --- fakes ---

type fakeScraper struct {
	events []RawEvent
	err    error
}

func (f *fakeScraper) Events(ctx context.Context, span TimeSpan) ([]RawEvent, error) {
	return f.events, f.err
}

type fakeSplitter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSplitter) Split(ctx context.Context, videoURI string) (Artifact, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return Artifact{}, f.err
	}
	return Artifact{Bytes: []byte("audio-of-" + videoURI), ContentType: "audio/wav"}, nil
}

type fakeSRModel struct {
	mu         sync.Mutex
	calls      int
	quotaAfter int // 0 = never; N = Nth call returns quota
	format     transcript.Format
}

func (f *fakeSRModel) Transcribe(ctx context.Context, req TranscribeRequest) ([]transcript.Payload, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if f.quotaAfter > 0 && n >= f.quotaAfter {
		return nil, fmt.Errorf("%w: provider returned 429", ErrTranscriptionQuota)
	}

	format := f.format
	if format == "" {
		format = transcript.FormatTimestampedSentences
	}
	return []transcript.Payload{{
		Format:     format,
		Confidence: 0.9,
		Data: []transcript.Unit{
			{StartTime: 0, Text: "Meeting called to order.", EndTime: 3},
			{StartTime: 3, Text: "Roll call.", EndTime: 5},
		},
	}}, nil
}

type fakeStager struct {
	mu    sync.Mutex
	files map[string]*domain.File
}

func newFakeStager() *fakeStager {
	return &fakeStager{files: map[string]*domain.File{}}
}

func (f *fakeStager) Stage(ctx context.Context, filename string, data []byte, contentType string) (*domain.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("digest-%d", len(data))
	if existing, ok := f.files[id]; ok {
		return existing, nil
	}
	file := &domain.File{ID: id, URI: "https://files.example.com/" + id, Filename: filename, ContentType: contentType}
	f.files[id] = file
	return file, nil
}

type fakeDB struct {
	mu          sync.Mutex
	events      map[string]*domain.Event
	transcripts map[string]*domain.Transcript // by event id
	files       map[string]*domain.File
	bodies      map[string]*domain.Body
	matters     map[string]*domain.Matter
	items       map[string]*domain.MinutesItem
	people      map[string]*domain.Person
	votes       map[string]*domain.Vote
	runs        []*domain.Run

	eventUpserts    int
	conflictOnEvent int // fail the Nth event upsert with ErrMergeConflict
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		events:      map[string]*domain.Event{},
		transcripts: map[string]*domain.Transcript{},
		files:       map[string]*domain.File{},
		bodies:      map[string]*domain.Body{},
		matters:     map[string]*domain.Matter{},
		items:       map[string]*domain.MinutesItem{},
		people:      map[string]*domain.Person{},
		votes:       map[string]*domain.Vote{},
	}
}

func (f *fakeDB) GetEventByID(ctx context.Context, id string) (*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev, ok := f.events[id]; ok {
		copied := *ev
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeDB) GetEventByExternalID(ctx context.Context, id string) (*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.ExternalSourceID == id {
			copied := *ev
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeDB) GetEventByVideoURI(ctx context.Context, uri string) (*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.VideoURI == uri {
			copied := *ev
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeDB) GetFile(ctx context.Context, id string) (*domain.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[id], nil
}

func (f *fakeDB) GetTranscriptForEvent(ctx context.Context, eventID string) (*domain.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transcripts[eventID], nil
}

func (f *fakeDB) UpsertEvent(ctx context.Context, ev *domain.Event) (*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventUpserts++
	if f.conflictOnEvent > 0 && f.eventUpserts == f.conflictOnEvent {
		return nil, fmt.Errorf("%w: document changed underneath", ErrMergeConflict)
	}
	copied := *ev
	f.events[ev.ID] = &copied
	return ev, nil
}

func (f *fakeDB) UpsertTranscript(ctx context.Context, tr *domain.Transcript) (*domain.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts[tr.EventID] = tr
	return tr, nil
}

func (f *fakeDB) UpsertFile(ctx context.Context, file *domain.File) (*domain.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[file.ID] = file
	return file, nil
}

func (f *fakeDB) UpsertBody(ctx context.Context, b *domain.Body) (*domain.Body, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[b.ID] = b
	return b, nil
}

func (f *fakeDB) UpsertPerson(ctx context.Context, p *domain.Person) (*domain.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.people[p.ID] = p
	return p, nil
}

func (f *fakeDB) UpsertMatter(ctx context.Context, m *domain.Matter) (*domain.Matter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matters[m.ID] = m
	return m, nil
}

func (f *fakeDB) UpsertMinutesItem(ctx context.Context, mi *domain.MinutesItem) (*domain.MinutesItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[mi.ID] = mi
	return mi, nil
}

func (f *fakeDB) UpsertVote(ctx context.Context, v *domain.Vote) (*domain.Vote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes[v.ID] = v
	return v, nil
}

func (f *fakeDB) UpsertRun(ctx context.Context, r *domain.Run) (*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return r, nil
}

func (f *fakeDB) ListEvents(ctx context.Context) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Event, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, *ev)
	}
	return out, nil
}

func (f *fakeDB) ListIDs(ctx context.Context, kind domain.Kind) ([]string, error) {
	return nil, nil
}

// --- helpers ---

func testSpan() TimeSpan {
	return TimeSpan{
		Start: time.Date(2019, 10, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2019, 10, 8, 0, 0, 0, 0, time.UTC),
	}
}

func newTestOrchestrator(t *testing.T, deps Deps, workers int) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(deps, Options{Workers: workers, MaxRetries: 3, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	return o
}

func videoEvent(id, video string) RawEvent {
	return RawEvent{
		ExternalSourceID: id,
		Body:             "City Council",
		EventDateTime:    time.Date(2019, 10, 7, 14, 0, 0, 0, time.UTC),
		SourceURI:        "https://legistar.example.com/event/" + id,
		VideoURI:         video,
	}
}

// --- tests ---

func TestRun_EventWithoutVideoMergesWithoutTranscription(t *testing.T) {
	db := newFakeDB()
	splitter := &fakeSplitter{}
	sr := &fakeSRModel{}
	scraper := &fakeScraper{events: []RawEvent{{
		ExternalSourceID: "4053",
		Body:             "City Council",
		EventDateTime:    time.Date(2019, 10, 7, 14, 0, 0, 0, time.UTC),
		SourceURI:        "https://legistar.example.com/event/4053",
	}}}

	o := newTestOrchestrator(t, Deps{Scraper: scraper, Splitter: splitter, SRModel: sr, Stager: newFakeStager(), Database: db}, 1)

	summary, err := o.Run(context.Background(), testSpan())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Merged != 1 || summary.Failed != 0 {
		t.Fatalf("Expected 1 merged, got %+v", summary)
	}
	if sr.calls != 0 {
		t.Errorf("Expected no SpeechRecognitionModel invocation, got %d", sr.calls)
	}
	if splitter.calls != 0 {
		t.Errorf("Expected no AudioSplitter invocation, got %d", splitter.calls)
	}
	if len(db.transcripts) != 0 {
		t.Errorf("Expected no Transcript created, got %d", len(db.transcripts))
	}
	ev, _ := db.GetEventByExternalID(context.Background(), "4053")
	if ev == nil {
		t.Fatal("Expected event 4053 to be merged into the database")
	}
}

func TestRun_UnchangedEventSkipsWithoutSplitting(t *testing.T) {
	db := newFakeDB()
	splitter := &fakeSplitter{}
	sr := &fakeSRModel{}
	event := videoEvent("4053", "https://video.example.com/a.mp4")
	scraper := &fakeScraper{events: []RawEvent{event}}

	o := newTestOrchestrator(t, Deps{Scraper: scraper, Splitter: splitter, SRModel: sr, Stager: newFakeStager(), Database: db}, 1)
	ctx := context.Background()

	if _, err := o.Run(ctx, testSpan()); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	firstSplits := splitter.calls

	summary, err := o.Run(ctx, testSpan())
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	if summary.Skipped != 1 || summary.Merged != 0 || summary.Failed != 0 {
		t.Fatalf("Expected second run to skip, got %+v", summary)
	}
	if splitter.calls != firstSplits {
		t.Errorf("Expected no AudioSplitter invocation on skip, got %d extra", splitter.calls-firstSplits)
	}
}

func TestRun_IdempotentAcrossRuns(t *testing.T) {
	db := newFakeDB()
	scraper := &fakeScraper{events: []RawEvent{
		videoEvent("4053", "https://video.example.com/a.mp4"),
		videoEvent("4054", "https://video.example.com/b.mp4"),
		{ExternalSourceID: "4055", Body: "Transportation Committee", EventDateTime: time.Date(2019, 10, 6, 9, 30, 0, 0, time.UTC)},
	}}

	o := newTestOrchestrator(t, Deps{Scraper: scraper, Splitter: &fakeSplitter{}, SRModel: &fakeSRModel{}, Stager: newFakeStager(), Database: db}, 2)
	ctx := context.Background()

	if _, err := o.Run(ctx, testSpan()); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	eventsAfterFirst := len(db.events)
	upsertsAfterFirst := db.eventUpserts

	summary, err := o.Run(ctx, testSpan())
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	if summary.Skipped != 3 {
		t.Fatalf("Expected all 3 candidates skipped on re-run, got %+v", summary)
	}
	if len(db.events) != eventsAfterFirst {
		t.Errorf("Expected zero net change to events, had %d now %d", eventsAfterFirst, len(db.events))
	}
	if db.eventUpserts != upsertsAfterFirst {
		t.Errorf("Expected no event writes on idempotent re-run, got %d extra", db.eventUpserts-upsertsAfterFirst)
	}
}

func TestRun_AgendaOnlyEventResolvesToOneRecord(t *testing.T) {
	db := newFakeDB()
	// A portal row with no upstream id and no recording yet: identity
	// can only come from body and date.
	agendaOnly := RawEvent{
		Body:          "City Council",
		EventDateTime: time.Date(2019, 10, 7, 14, 0, 0, 0, time.UTC),
		AgendaURI:     "https://legistar.example.com/agenda/4053.pdf",
	}
	scraper := &fakeScraper{events: []RawEvent{agendaOnly}}

	o := newTestOrchestrator(t, Deps{Scraper: scraper, Stager: newFakeStager(), Database: db}, 1)
	ctx := context.Background()

	if _, err := o.Run(ctx, testSpan()); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	summary, err := o.Run(ctx, testSpan())
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	if len(db.events) != 1 {
		t.Fatalf("Expected exactly one stored event after two runs of the same descriptor, got %d", len(db.events))
	}
	if summary.Skipped != 1 || summary.Merged != 0 {
		t.Fatalf("Expected the unchanged descriptor skipped on re-run, got %+v", summary)
	}
}

func TestRun_NoDuplicateEventsForRepeatedExternalID(t *testing.T) {
	db := newFakeDB()
	ev := videoEvent("4053", "https://video.example.com/a.mp4")
	updated := ev
	updated.VideoURI = "https://video.example.com/a-recut.mp4"

	o := newTestOrchestrator(t, Deps{Scraper: &fakeScraper{events: []RawEvent{ev}}, Splitter: &fakeSplitter{}, SRModel: &fakeSRModel{}, Stager: newFakeStager(), Database: db}, 1)
	ctx := context.Background()
	if _, err := o.Run(ctx, testSpan()); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	o2 := newTestOrchestrator(t, Deps{Scraper: &fakeScraper{events: []RawEvent{updated}}, Splitter: &fakeSplitter{}, SRModel: &fakeSRModel{}, Stager: newFakeStager(), Database: db}, 1)
	if _, err := o2.Run(ctx, testSpan()); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	count := 0
	for _, stored := range db.events {
		if stored.ExternalSourceID == "4053" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("Expected exactly one event for external id 4053, got %d", count)
	}
}

func TestRun_UnionMergeOfMatters(t *testing.T) {
	db := newFakeDB()
	withMatter := func(matterID, matterName string) RawEvent {
		ev := videoEvent("4053", "https://video.example.com/a.mp4")
		ev.MinutesItems = []RawMinutesItem{{
			Name:   "Item " + matterID,
			Matter: &RawMatter{Name: matterName, ExternalSourceID: matterID},
		}}
		return ev
	}

	runWith := func(ev RawEvent) {
		t.Helper()
		o := newTestOrchestrator(t, Deps{Scraper: &fakeScraper{events: []RawEvent{ev}}, Splitter: &fakeSplitter{}, SRModel: &fakeSRModel{}, Stager: newFakeStager(), Database: db}, 1)
		if _, err := o.Run(context.Background(), testSpan()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	}

	runWith(withMatter("m1", "CB 119000"))
	runWith(withMatter("m2", "Res 31900"))

	ev, _ := db.GetEventByExternalID(context.Background(), "4053")
	if ev == nil {
		t.Fatal("Expected event 4053 in database")
	}
	if len(ev.Matters) != 2 {
		t.Fatalf("Expected matters {m1, m2} after union merge, got %v", ev.Matters)
	}
}

func TestRun_QuotaExceededHaltsTranscriptionButMergesRemaining(t *testing.T) {
	db := newFakeDB()
	sr := &fakeSRModel{quotaAfter: 3}

	events := make([]RawEvent, 0, 10)
	for i := 0; i < 10; i++ {
		events = append(events, videoEvent(fmt.Sprintf("40%02d", i), fmt.Sprintf("https://video.example.com/%d.mp4", i)))
	}

	o := newTestOrchestrator(t, Deps{Scraper: &fakeScraper{events: events}, Splitter: &fakeSplitter{}, SRModel: sr, Stager: newFakeStager(), Database: db}, 1)

	summary, err := o.Run(context.Background(), testSpan())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Failed != 1 {
		t.Fatalf("Expected exactly the quota candidate to fail, got %+v", summary)
	}
	if summary.Merged != 9 {
		t.Fatalf("Expected remaining candidates to complete metadata-only merges, got %+v", summary)
	}
	if sr.calls != 3 {
		t.Errorf("Expected transcription halted after the quota error, got %d calls", sr.calls)
	}
	// 2 transcribed before the quota hit, none after.
	if len(db.transcripts) != 2 {
		t.Errorf("Expected 2 transcripts, got %d", len(db.transcripts))
	}
}

func TestRun_TranscriptFormatNeverDowngrades(t *testing.T) {
	db := newFakeDB()
	ev := videoEvent("4053", "https://video.example.com/a.mp4")

	run := func(format transcript.Format, video string) {
		t.Helper()
		e := ev
		e.VideoURI = video
		o := newTestOrchestrator(t, Deps{
			Scraper:  &fakeScraper{events: []RawEvent{e}},
			Splitter: &fakeSplitter{},
			SRModel:  &fakeSRModel{format: format},
			Stager:   newFakeStager(),
			Database: db,
		}, 1)
		if _, err := o.Run(context.Background(), testSpan()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	}

	run(transcript.FormatTimestampedSentences, "https://video.example.com/a.mp4")
	// A later run re-derives the transcript in a coarser format; the new
	// video URI forces reprocessing.
	run(transcript.FormatTimestampedWords, "https://video.example.com/a-v2.mp4")

	stored, _ := db.GetEventByExternalID(context.Background(), "4053")
	tr := db.transcripts[stored.ID]
	if tr == nil {
		t.Fatal("Expected a transcript for event 4053")
	}
	if tr.Format != string(transcript.FormatTimestampedSentences) {
		t.Errorf("Expected stored format to stay timestamped-sentences, got %q", tr.Format)
	}
}

func TestRun_MergeConflictRetriesWithRereadState(t *testing.T) {
	db := newFakeDB()
	db.conflictOnEvent = 1

	o := newTestOrchestrator(t, Deps{Scraper: &fakeScraper{events: []RawEvent{{ExternalSourceID: "4053", Body: "City Council"}}}, Stager: newFakeStager(), Database: db}, 1)

	summary, err := o.Run(context.Background(), testSpan())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Merged != 1 || summary.Failed != 0 {
		t.Fatalf("Expected merge to succeed after conflict retry, got %+v", summary)
	}
	if db.eventUpserts < 2 {
		t.Errorf("Expected the upsert to be retried, got %d attempts", db.eventUpserts)
	}
}

func TestRun_MediaFailureFailsOnlyThatCandidate(t *testing.T) {
	db := newFakeDB()
	splitter := &fakeSplitter{err: fmt.Errorf("%w: ffmpeg exit 1", ErrMediaExtraction)}

	events := []RawEvent{
		videoEvent("4053", "https://video.example.com/broken.mp4"),
		{ExternalSourceID: "4054", Body: "City Council"},
	}
	o := newTestOrchestrator(t, Deps{Scraper: &fakeScraper{events: events}, Splitter: splitter, SRModel: &fakeSRModel{}, Stager: newFakeStager(), Database: db}, 1)

	summary, err := o.Run(context.Background(), testSpan())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Failed != 1 || summary.Merged != 1 {
		t.Fatalf("Expected sibling candidate unaffected by media failure, got %+v", summary)
	}
	if len(summary.Failures) != 1 {
		t.Fatalf("Expected one recorded failure reason, got %v", summary.Failures)
	}
}

func TestRun_ScraperFailureReportedAtRunLevel(t *testing.T) {
	db := newFakeDB()
	scraper := &fakeScraper{err: fmt.Errorf("%w: connection refused", ErrSourceUnavailable)}
	o := newTestOrchestrator(t, Deps{Scraper: scraper, Stager: newFakeStager(), Database: db}, 1)

	_, err := o.Run(context.Background(), testSpan())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("Expected ErrSourceUnavailable after retries, got %v", err)
	}
	if len(db.runs) != 1 {
		t.Fatalf("Expected the failed run recorded, got %d run documents", len(db.runs))
	}
	if db.runs[0].Failed != 1 || len(db.runs[0].Failures) != 1 {
		t.Errorf("Expected the discovery failure in the run document, got %+v", db.runs[0])
	}
}

func TestRun_CancellationStopsLaunchingCandidates(t *testing.T) {
	db := newFakeDB()
	events := make([]RawEvent, 0, 50)
	for i := 0; i < 50; i++ {
		events = append(events, RawEvent{ExternalSourceID: fmt.Sprintf("e%d", i), Body: "City Council"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newTestOrchestrator(t, Deps{Scraper: &fakeScraper{events: events}, Stager: newFakeStager(), Database: db}, 1)
	summary, err := o.Run(ctx, testSpan())

	if err == nil {
		t.Fatal("Expected context error from cancelled run")
	}
	if summary.Merged+summary.Failed+summary.Skipped == summary.Discovered && summary.Discovered > 0 {
		t.Log("all candidates happened to finish before cancellation was observed")
	}
}

func TestRun_RecordsRunDocument(t *testing.T) {
	db := newFakeDB()
	o := newTestOrchestrator(t, Deps{Scraper: &fakeScraper{events: []RawEvent{{ExternalSourceID: "4053", Body: "City Council"}}}, Stager: newFakeStager(), Database: db}, 1)

	if _, err := o.Run(context.Background(), testSpan()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(db.runs) != 1 {
		t.Fatalf("Expected one run document, got %d", len(db.runs))
	}
	run := db.runs[0]
	if run.Discovered != 1 || run.Merged != 1 {
		t.Errorf("Expected run document to carry the summary, got %+v", run)
	}
	if run.Begin.IsZero() || run.Completed.IsZero() {
		t.Error("Expected run begin/completed timestamps to be set")
	}
}

func TestRun_VotesAndPeopleUpsertedAsStubs(t *testing.T) {
	db := newFakeDB()
	ev := videoEvent("4053", "")
	ev.MinutesItems = []RawMinutesItem{{
		Name:             "CB 119000 adoption",
		ExternalSourceID: "item-1",
		Matter:           &RawMatter{Name: "CB 119000", ExternalSourceID: "m1", Type: "Council Bill"},
		Votes: []RawVote{
			{PersonName: "M. Harrell", PersonExternalSourceID: "p1", Decision: "Approve"},
			{PersonName: "L. Gonzalez", PersonExternalSourceID: "p2", Decision: "Approve"},
		},
	}}

	o := newTestOrchestrator(t, Deps{Scraper: &fakeScraper{events: []RawEvent{ev}}, Stager: newFakeStager(), Database: db}, 1)
	if _, err := o.Run(context.Background(), testSpan()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(db.people) != 2 {
		t.Errorf("Expected 2 person stubs, got %d", len(db.people))
	}
	if len(db.votes) != 2 {
		t.Errorf("Expected 2 votes, got %d", len(db.votes))
	}
	if len(db.matters) != 1 || len(db.items) != 1 {
		t.Errorf("Expected 1 matter and 1 minutes item, got %d and %d", len(db.matters), len(db.items))
	}
	stored, _ := db.GetEventByExternalID(context.Background(), "4053")
	if len(stored.People) != 2 {
		t.Errorf("Expected event to reference both people, got %v", stored.People)
	}
}

func TestProcessOne(t *testing.T) {
	db := newFakeDB()
	o := newTestOrchestrator(t, Deps{Scraper: &fakeScraper{}, Stager: newFakeStager(), Database: db}, 1)

	summary, err := o.ProcessOne(context.Background(), RawEvent{ExternalSourceID: "4053", Body: "City Council"})
	if err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	if summary.Merged != 1 {
		t.Fatalf("Expected single candidate merged, got %+v", summary)
	}
}

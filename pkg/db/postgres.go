package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"council-gather/pkg/domain"
)

// PostgresConfig holds connection details for the JSONB document store.
type PostgresConfig struct {
	// DSN is a standard postgres connection string.
	DSN string
}

// PostgresDatabase implements pipeline.Database on a single JSONB table,
// for deployments that already run Postgres and do not want a second
// datastore. Documents are keyed by (kind, id).
type PostgresDatabase struct {
	cfg PostgresConfig
	db  *sql.DB
}

// NewPostgresDatabase creates an unconnected store; call Connect before use.
func NewPostgresDatabase(cfg PostgresConfig) *PostgresDatabase {
	return &PostgresDatabase{cfg: cfg}
}

// Connect opens the connection pool and ensures the document table exists.
func (p *PostgresDatabase) Connect(ctx context.Context) error {
	db, err := sql.Open("pgx", p.cfg.DSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	const schema = `
		CREATE TABLE IF NOT EXISTS document (
			kind TEXT NOT NULL,
			id   TEXT NOT NULL,
			doc  JSONB NOT NULL,
			PRIMARY KEY (kind, id)
		)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create document table: %w", err)
	}
	p.db = db
	return nil
}

// Close closes the connection pool.
func (p *PostgresDatabase) Close(ctx context.Context) error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// upsert inserts or merges a document. On conflict the stored document
// absorbs every incoming field except `created`, keeping creation
// timestamps write-once while later observations refresh the rest.
func (p *PostgresDatabase) upsert(ctx context.Context, kind domain.Kind, id string, entity any) error {
	doc, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	const query = `
		INSERT INTO document (kind, id, doc) VALUES ($1, $2, $3)
		ON CONFLICT (kind, id)
		DO UPDATE SET doc = document.doc || (EXCLUDED.doc - 'created')`
	if _, err := p.db.ExecContext(ctx, query, string(kind), id, doc); err != nil {
		return fmt.Errorf("upsert %s: %w", kind, err)
	}
	return nil
}

// getByField decodes the first document whose given top-level field
// matches value, returning false when nothing matches.
func (p *PostgresDatabase) getByField(ctx context.Context, kind domain.Kind, field, value string, out any) (bool, error) {
	const query = `SELECT doc FROM document WHERE kind = $1 AND doc->>$2 = $3 LIMIT 1`
	var doc []byte
	err := p.db.QueryRowContext(ctx, query, string(kind), field, value).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find %s: %w", kind, err)
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", kind, err)
	}
	return true, nil
}

func (p *PostgresDatabase) GetEventByID(ctx context.Context, id string) (*domain.Event, error) {
	var ev domain.Event
	found, err := p.getByField(ctx, domain.KindEvent, "id", id, &ev)
	if err != nil || !found {
		return nil, err
	}
	return &ev, nil
}

func (p *PostgresDatabase) GetEventByExternalID(ctx context.Context, externalSourceID string) (*domain.Event, error) {
	var ev domain.Event
	found, err := p.getByField(ctx, domain.KindEvent, "external_source_id", externalSourceID, &ev)
	if err != nil || !found {
		return nil, err
	}
	return &ev, nil
}

func (p *PostgresDatabase) GetEventByVideoURI(ctx context.Context, videoURI string) (*domain.Event, error) {
	var ev domain.Event
	found, err := p.getByField(ctx, domain.KindEvent, "video_uri", videoURI, &ev)
	if err != nil || !found {
		return nil, err
	}
	return &ev, nil
}

func (p *PostgresDatabase) GetFile(ctx context.Context, id string) (*domain.File, error) {
	var f domain.File
	found, err := p.getByField(ctx, domain.KindFile, "id", id, &f)
	if err != nil || !found {
		return nil, err
	}
	return &f, nil
}

func (p *PostgresDatabase) GetTranscriptForEvent(ctx context.Context, eventID string) (*domain.Transcript, error) {
	var tr domain.Transcript
	found, err := p.getByField(ctx, domain.KindTranscript, "event_id", eventID, &tr)
	if err != nil || !found {
		return nil, err
	}
	return &tr, nil
}

// UpsertEvent writes an event with union semantics on its relation
// lists. The row is locked and the lists merged in place, so a
// concurrent writer's matters, minutes items, or people survive this
// write instead of being truncated by it.
func (p *PostgresDatabase) UpsertEvent(ctx context.Context, ev *domain.Event) (*domain.Event, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin event upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const lock = `SELECT doc FROM document WHERE kind = $1 AND id = $2 FOR UPDATE`
	var storedDoc []byte
	err = tx.QueryRowContext(ctx, lock, string(domain.KindEvent), ev.ID).Scan(&storedDoc)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lock event %s: %w", ev.ID, err)
	}

	merged := *ev
	if storedDoc != nil {
		var stored domain.Event
		if err := json.Unmarshal(storedDoc, &stored); err != nil {
			return nil, fmt.Errorf("decode stored event %s: %w", ev.ID, err)
		}
		merged.Matters = domain.UnionRefs(stored.Matters, ev.Matters)
		merged.MinutesItems = domain.UnionRefs(stored.MinutesItems, ev.MinutesItems)
		merged.People = domain.UnionRefs(stored.People, ev.People)
		merged.Keywords = unionStrings(stored.Keywords, ev.Keywords)
		merged.Created = stored.Created
	}

	doc, err := json.Marshal(&merged)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	const write = `
		INSERT INTO document (kind, id, doc) VALUES ($1, $2, $3)
		ON CONFLICT (kind, id) DO UPDATE SET doc = EXCLUDED.doc`
	if _, err := tx.ExecContext(ctx, write, string(domain.KindEvent), ev.ID, doc); err != nil {
		return nil, fmt.Errorf("upsert event %s: %w", ev.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit event upsert: %w", err)
	}
	return &merged, nil
}

// UpsertTranscript keys on the transcript's own id but keeps the
// one-per-event invariant by deleting any sibling transcript rows for
// the same event first.
func (p *PostgresDatabase) UpsertTranscript(ctx context.Context, tr *domain.Transcript) (*domain.Transcript, error) {
	const prune = `DELETE FROM document WHERE kind = $1 AND doc->>'event_id' = $2 AND id <> $3`
	if _, err := p.db.ExecContext(ctx, prune, string(domain.KindTranscript), tr.EventID, tr.ID); err != nil {
		return nil, fmt.Errorf("prune transcripts: %w", err)
	}
	if err := p.upsert(ctx, domain.KindTranscript, tr.ID, tr); err != nil {
		return nil, err
	}
	return tr, nil
}

func (p *PostgresDatabase) UpsertFile(ctx context.Context, f *domain.File) (*domain.File, error) {
	if err := p.upsert(ctx, domain.KindFile, f.ID, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (p *PostgresDatabase) UpsertBody(ctx context.Context, b *domain.Body) (*domain.Body, error) {
	if err := p.upsert(ctx, domain.KindBody, b.ID, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (p *PostgresDatabase) UpsertPerson(ctx context.Context, pe *domain.Person) (*domain.Person, error) {
	if err := p.upsert(ctx, domain.KindPerson, pe.ID, pe); err != nil {
		return nil, err
	}
	return pe, nil
}

func (p *PostgresDatabase) UpsertMatter(ctx context.Context, ma *domain.Matter) (*domain.Matter, error) {
	if err := p.upsert(ctx, domain.KindMatter, ma.ID, ma); err != nil {
		return nil, err
	}
	return ma, nil
}

func (p *PostgresDatabase) UpsertMinutesItem(ctx context.Context, mi *domain.MinutesItem) (*domain.MinutesItem, error) {
	if err := p.upsert(ctx, domain.KindMinutesItem, mi.ID, mi); err != nil {
		return nil, err
	}
	return mi, nil
}

func (p *PostgresDatabase) UpsertVote(ctx context.Context, v *domain.Vote) (*domain.Vote, error) {
	if err := p.upsert(ctx, domain.KindVote, v.ID, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (p *PostgresDatabase) UpsertRun(ctx context.Context, r *domain.Run) (*domain.Run, error) {
	if err := p.upsert(ctx, domain.KindRun, r.ID, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresDatabase) ListEvents(ctx context.Context) ([]domain.Event, error) {
	const query = `SELECT doc FROM document WHERE kind = $1`
	rows, err := p.db.QueryContext(ctx, query, string(domain.KindEvent))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev domain.Event
		if err := json.Unmarshal(doc, &ev); err != nil {
			continue // skip documents written by older schema versions
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

func (p *PostgresDatabase) ListIDs(ctx context.Context, kind domain.Kind) ([]string, error) {
	const query = `SELECT id FROM document WHERE kind = $1`
	rows, err := p.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", kind, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return ids, nil
}

func unionStrings(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	merged := make([]string, 0, len(existing)+len(incoming))
	for _, s := range existing {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		merged = append(merged, s)
	}
	for _, s := range incoming {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		merged = append(merged, s)
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

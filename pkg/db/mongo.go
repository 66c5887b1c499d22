// Package db provides the document store implementations behind the
// pipeline's Database contract: MongoDB for deployments and Postgres
// (JSONB) where a relational instance is already available.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"council-gather/pkg/domain"
	"council-gather/pkg/pipeline"
)

// MongoConfig holds connection details for the shared document store.
type MongoConfig struct {
	// URI is the MongoDB connection string.
	URI string
	// Database is the database name, one per city deployment.
	Database string
}

// MongoDatabase implements pipeline.Database on MongoDB, one collection
// per entity kind.
type MongoDatabase struct {
	cfg      MongoConfig
	client   *mongo.Client
	database *mongo.Database
}

// NewMongoDatabase creates an unconnected client; call Connect before use.
func NewMongoDatabase(cfg MongoConfig) *MongoDatabase {
	return &MongoDatabase{cfg: cfg}
}

// Connect establishes and verifies the MongoDB connection.
func (m *MongoDatabase) Connect(ctx context.Context) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(m.cfg.URI))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	m.client = client
	m.database = client.Database(m.cfg.Database)
	if err := m.ensureIndexes(ctx); err != nil {
		return err
	}
	return nil
}

// writtenKinds are the collections this store upserts into.
var writtenKinds = []domain.Kind{
	domain.KindEvent,
	domain.KindTranscript,
	domain.KindFile,
	domain.KindBody,
	domain.KindPerson,
	domain.KindMatter,
	domain.KindMinutesItem,
	domain.KindVote,
	domain.KindRun,
}

// indexModels returns the unique indexes a collection needs. Without a
// unique index on the upsert filter, two writers racing the same new
// identifier both insert and the duplicate-key signal the merge retry
// depends on never fires.
func indexModels(kind domain.Kind) []mongo.IndexModel {
	models := []mongo.IndexModel{{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}}
	switch kind {
	case domain.KindEvent:
		models = append(models, mongo.IndexModel{
			Keys: bson.D{{Key: "external_source_id", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"external_source_id": bson.M{"$exists": true}}),
		})
	case domain.KindTranscript:
		// Transcripts are upserted by event id, one per event.
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		})
	}
	return models
}

func (m *MongoDatabase) ensureIndexes(ctx context.Context) error {
	for _, kind := range writtenKinds {
		if _, err := m.collection(kind).Indexes().CreateMany(ctx, indexModels(kind)); err != nil {
			return fmt.Errorf("create %s indexes: %w", kind, err)
		}
	}
	return nil
}

// Close closes the MongoDB connection.
func (m *MongoDatabase) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

func (m *MongoDatabase) collection(kind domain.Kind) *mongo.Collection {
	return m.database.Collection(string(kind))
}

// findOne decodes a single match into out, returning false when nothing
// matches.
func (m *MongoDatabase) findOne(ctx context.Context, kind domain.Kind, filter bson.M, out any) (bool, error) {
	err := m.collection(kind).FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find %s: %w", kind, err)
	}
	return true, nil
}

func (m *MongoDatabase) GetEventByID(ctx context.Context, id string) (*domain.Event, error) {
	var ev domain.Event
	found, err := m.findOne(ctx, domain.KindEvent, bson.M{"id": id}, &ev)
	if err != nil || !found {
		return nil, err
	}
	return &ev, nil
}

func (m *MongoDatabase) GetEventByExternalID(ctx context.Context, externalSourceID string) (*domain.Event, error) {
	var ev domain.Event
	found, err := m.findOne(ctx, domain.KindEvent, bson.M{"external_source_id": externalSourceID}, &ev)
	if err != nil || !found {
		return nil, err
	}
	return &ev, nil
}

func (m *MongoDatabase) GetEventByVideoURI(ctx context.Context, videoURI string) (*domain.Event, error) {
	var ev domain.Event
	found, err := m.findOne(ctx, domain.KindEvent, bson.M{"video_uri": videoURI}, &ev)
	if err != nil || !found {
		return nil, err
	}
	return &ev, nil
}

func (m *MongoDatabase) GetFile(ctx context.Context, id string) (*domain.File, error) {
	var f domain.File
	found, err := m.findOne(ctx, domain.KindFile, bson.M{"id": id}, &f)
	if err != nil || !found {
		return nil, err
	}
	return &f, nil
}

func (m *MongoDatabase) GetTranscriptForEvent(ctx context.Context, eventID string) (*domain.Transcript, error) {
	var tr domain.Transcript
	found, err := m.findOne(ctx, domain.KindTranscript, bson.M{"event_id": eventID}, &tr)
	if err != nil || !found {
		return nil, err
	}
	return &tr, nil
}

// upsert writes a document with last-write-wins field semantics while
// keeping `created` write-once. The update document is derived from the
// entity's bson tags, so empty optional fields are simply absent and
// never clobber stored values.
func (m *MongoDatabase) upsert(ctx context.Context, kind domain.Kind, filter bson.M, entity any, created time.Time) error {
	fields, err := toFields(entity)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	delete(fields, "created")

	update := bson.M{
		"$set":         fields,
		"$setOnInsert": bson.M{"created": created},
	}
	_, err = m.collection(kind).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		// Two writers racing the same new id both try to insert; the
		// loser surfaces as a duplicate key and gets retried as a merge
		// conflict with freshly re-read state.
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", pipeline.ErrMergeConflict, err)
		}
		return fmt.Errorf("upsert %s: %w", kind, err)
	}
	return nil
}

// toFields flattens an entity into its bson field map.
func toFields(entity any) (bson.M, error) {
	raw, err := bson.Marshal(entity)
	if err != nil {
		return nil, err
	}
	var fields bson.M
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// UpsertEvent writes an event with union semantics on its relation
// lists: $addToSet means a concurrent writer's matters, minutes items,
// or people survive this write instead of being truncated by it.
func (m *MongoDatabase) UpsertEvent(ctx context.Context, ev *domain.Event) (*domain.Event, error) {
	fields, err := toFields(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	delete(fields, "created")

	addToSet := bson.M{}
	for _, list := range []string{"matters", "minutes_items", "people", "keywords"} {
		if refs, ok := fields[list]; ok {
			addToSet[list] = bson.M{"$each": refs}
			delete(fields, list)
		}
	}

	update := bson.M{
		"$set":         fields,
		"$setOnInsert": bson.M{"created": ev.Created},
	}
	if len(addToSet) > 0 {
		update["$addToSet"] = addToSet
	}
	_, err = m.collection(domain.KindEvent).UpdateOne(ctx, bson.M{"id": ev.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %v", pipeline.ErrMergeConflict, err)
		}
		return nil, fmt.Errorf("upsert event: %w", err)
	}
	return ev, nil
}

// UpsertTranscript keys on event id: an Event has exactly one
// authoritative Transcript, so a reprocessed result supersedes the
// stored document instead of adding a second one.
func (m *MongoDatabase) UpsertTranscript(ctx context.Context, tr *domain.Transcript) (*domain.Transcript, error) {
	if err := m.upsert(ctx, domain.KindTranscript, bson.M{"event_id": tr.EventID}, tr, tr.Created); err != nil {
		return nil, err
	}
	return tr, nil
}

func (m *MongoDatabase) UpsertFile(ctx context.Context, f *domain.File) (*domain.File, error) {
	if err := m.upsert(ctx, domain.KindFile, bson.M{"id": f.ID}, f, f.Created); err != nil {
		return nil, err
	}
	return f, nil
}

func (m *MongoDatabase) UpsertBody(ctx context.Context, b *domain.Body) (*domain.Body, error) {
	if err := m.upsert(ctx, domain.KindBody, bson.M{"id": b.ID}, b, b.Created); err != nil {
		return nil, err
	}
	return b, nil
}

func (m *MongoDatabase) UpsertPerson(ctx context.Context, p *domain.Person) (*domain.Person, error) {
	if err := m.upsert(ctx, domain.KindPerson, bson.M{"id": p.ID}, p, p.Created); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *MongoDatabase) UpsertMatter(ctx context.Context, ma *domain.Matter) (*domain.Matter, error) {
	if err := m.upsert(ctx, domain.KindMatter, bson.M{"id": ma.ID}, ma, ma.Created); err != nil {
		return nil, err
	}
	return ma, nil
}

func (m *MongoDatabase) UpsertMinutesItem(ctx context.Context, mi *domain.MinutesItem) (*domain.MinutesItem, error) {
	if err := m.upsert(ctx, domain.KindMinutesItem, bson.M{"id": mi.ID}, mi, mi.Created); err != nil {
		return nil, err
	}
	return mi, nil
}

func (m *MongoDatabase) UpsertVote(ctx context.Context, v *domain.Vote) (*domain.Vote, error) {
	if err := m.upsert(ctx, domain.KindVote, bson.M{"id": v.ID}, v, v.Created); err != nil {
		return nil, err
	}
	return v, nil
}

// UpsertRun replaces the whole document: a run is only ever written by
// the process that owns it, so there is no merge to preserve.
func (m *MongoDatabase) UpsertRun(ctx context.Context, r *domain.Run) (*domain.Run, error) {
	_, err := m.collection(domain.KindRun).ReplaceOne(ctx, bson.M{"id": r.ID}, r, options.Replace().SetUpsert(true))
	if err != nil {
		return nil, fmt.Errorf("upsert run: %w", err)
	}
	return r, nil
}

func (m *MongoDatabase) ListEvents(ctx context.Context) ([]domain.Event, error) {
	cursor, err := m.collection(domain.KindEvent).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []domain.Event
	for cursor.Next(ctx) {
		var ev domain.Event
		if err := cursor.Decode(&ev); err != nil {
			continue // skip documents written by older schema versions
		}
		events = append(events, ev)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return events, nil
}

func (m *MongoDatabase) ListIDs(ctx context.Context, kind domain.Kind) ([]string, error) {
	cursor, err := m.collection(kind).Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"id": 1, "_id": 0}))
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", kind, err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var row struct {
			ID string `bson:"id"`
		}
		if err := cursor.Decode(&row); err != nil {
			continue
		}
		if row.ID != "" {
			ids = append(ids, row.ID)
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return ids, nil
}

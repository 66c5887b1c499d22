// Package staging persists binary artifacts content-addressed: the
// sha256 digest of the bytes is the File identifier, so identical bytes
// staged from any number of pipeline runs map to one stored object and
// one File record.
package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"time"

	"council-gather/pkg/domain"
	"council-gather/pkg/pipeline"
)

// FileDatabase is the slice of the Database contract staging needs.
// The full pipeline.Database satisfies it.
type FileDatabase interface {
	GetFile(ctx context.Context, id string) (*domain.File, error)
	UpsertFile(ctx context.Context, file *domain.File) (*domain.File, error)
}

// Stager wires a FileStore and the Database into pipeline.Stager.
type Stager struct {
	store pipeline.FileStore
	db    FileDatabase
}

// New creates a stager over the given file store and database.
func New(store pipeline.FileStore, db FileDatabase) *Stager {
	return &Stager{store: store, db: db}
}

// Stage computes the content digest, short-circuits if the Database
// already has a File with that identifier, and otherwise uploads the
// bytes and records the File. The upload happens before the database
// write, so a storage failure can never leave a dangling File record.
func (s *Stager) Stage(ctx context.Context, filename string, data []byte, contentType string) (*domain.File, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("refusing to stage empty artifact %q", filename)
	}

	digest := Digest(data)

	existing, err := s.db.GetFile(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("lookup file %s: %w", digest, err)
	}
	if existing != nil {
		return existing, nil
	}

	// The object key keeps the filename's extension so stores and CDNs
	// can infer content type from the key alone.
	key := digest + path.Ext(filename)
	uri, err := s.store.Store(ctx, key, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("store %q: %w", filename, err)
	}

	file := &domain.File{
		ID:          digest,
		URI:         uri,
		Filename:    filename,
		ContentType: contentType,
		Created:     time.Now().UTC(),
	}
	stored, err := s.db.UpsertFile(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("record file %s: %w", digest, err)
	}
	return stored, nil
}

// Digest returns the hex sha256 of the given bytes, the identifier
// under which they are stored.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

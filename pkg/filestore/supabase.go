// Package filestore provides blob storage backends for staged artifacts:
// Supabase Storage for hosted deployments and a plain directory store
// for local runs and tests. Keys are content digests, so a Store of
// bytes that already exist is a harmless overwrite with identical data.
package filestore

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	storage_go "github.com/supabase-community/storage-go"
	supabase "github.com/supabase-community/supabase-go"

	"council-gather/pkg/pipeline"
)

// SupabaseConfig holds the project URL, API key, and target bucket.
type SupabaseConfig struct {
	// URL is the Supabase project URL, e.g. "https://[project-ref].supabase.co".
	URL string
	// Key is the service_role API key; storage writes need it.
	Key string
	// Bucket is the storage bucket name; it must already exist and be
	// public so stored URIs are directly fetchable.
	Bucket string
}

// SupabaseFileStore stores artifacts in a public Supabase Storage bucket.
type SupabaseFileStore struct {
	cfg     SupabaseConfig
	storage *storage_go.Client
	httpc   *http.Client
}

// NewSupabaseFileStore connects the Supabase SDK and returns the store.
func NewSupabaseFileStore(cfg SupabaseConfig) (*SupabaseFileStore, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.Key, nil)
	if err != nil {
		return nil, fmt.Errorf("initialize supabase SDK: %w", err)
	}
	return &SupabaseFileStore{
		cfg:     cfg,
		storage: client.Storage,
		httpc:   http.DefaultClient,
	}, nil
}

// Store uploads data under key and returns the public URI. Uploads are
// upserts: re-storing an existing key succeeds without error.
func (s *SupabaseFileStore) Store(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	upsert := true
	opts := storage_go.FileOptions{Upsert: &upsert}
	if contentType != "" {
		opts.ContentType = &contentType
	}
	_, err := s.storage.UploadFile(s.cfg.Bucket, key, bytes.NewReader(data), opts)
	if err != nil {
		return "", fmt.Errorf("%w: upload %s: %v", pipeline.ErrStorage, key, err)
	}
	return s.publicURL(key), nil
}

// GetURI returns the public URI for key, or ErrFileNotFound when no
// object exists there. Existence is probed with a plain HEAD against
// the public URL, which also works for buckets written by other tools.
func (s *SupabaseFileStore) GetURI(ctx context.Context, key string) (string, error) {
	uri := s.publicURL(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, uri, nil)
	if err != nil {
		return "", fmt.Errorf("build existence check: %w", err)
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: check %s: %v", pipeline.ErrStorage, key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return uri, nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", pipeline.ErrFileNotFound, key)
	}
	return "", fmt.Errorf("%w: check %s: unexpected status %d", pipeline.ErrStorage, key, resp.StatusCode)
}

func (s *SupabaseFileStore) publicURL(key string) string {
	return s.storage.GetPublicUrl(s.cfg.Bucket, key).SignedURL
}

// Package modules constructs pipeline capabilities from configuration.
// Both entrypoints share it so a config file means the same thing
// everywhere.
package modules

import (
	"context"
	"fmt"

	"council-gather/pkg/config"
	"council-gather/pkg/db"
	"council-gather/pkg/filestore"
	"council-gather/pkg/httpclient"
	"council-gather/pkg/media"
	"council-gather/pkg/pipeline"
	"council-gather/pkg/scraper"
	"council-gather/pkg/srmodel"
	"council-gather/pkg/staging"
)

// Built holds the constructed capabilities and their teardown.
type Built struct {
	Deps    pipeline.Deps
	Options pipeline.Options

	closers []func(context.Context) error
}

// Close releases database connections and other held resources.
func (b *Built) Close(ctx context.Context) error {
	var firstErr error
	for _, closer := range b.closers {
		if err := closer(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build constructs every configured module and wires them together.
func Build(ctx context.Context, cfg *config.Config) (*Built, error) {
	built := &Built{
		Options: pipeline.Options{
			Workers:    cfg.Workers,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay.Std(),
		},
	}

	database, err := buildDatabase(ctx, cfg.Database, built)
	if err != nil {
		return nil, err
	}
	store, err := buildFileStore(cfg.FileStore)
	if err != nil {
		built.Close(ctx)
		return nil, err
	}
	eventScraper, err := buildScraper(cfg.Scraper)
	if err != nil {
		built.Close(ctx)
		return nil, err
	}

	fetcher := httpclient.NewClient(httpclient.BrowserClient)

	built.Deps = pipeline.Deps{
		Scraper:  eventScraper,
		Stager:   staging.New(store, database),
		Fetcher:  fetcher,
		Database: database,
	}

	if cfg.AudioSplit.Module == "ffmpeg" {
		splitter, err := media.NewFFmpegSplitter()
		if err != nil {
			built.Close(ctx)
			return nil, fmt.Errorf("audio_splitter: %w", err)
		}
		built.Deps.Splitter = splitter
	}
	if cfg.SRModel.Module == "remote" {
		built.Deps.SRModel = srmodel.NewRemoteModel(srmodel.RemoteConfig{
			Endpoint:       cfg.SRModel.Endpoint,
			Token:          cfg.SRModel.Token,
			RequestTimeout: cfg.SRModel.RequestTimeout.Std(),
		})
	}
	if cfg.CaptionModel.Module == "webvtt" {
		built.Deps.CaptionModel = srmodel.NewWebVTTModel(fetcher)
	}

	return built, nil
}

func buildDatabase(ctx context.Context, cfg config.DatabaseConfig, built *Built) (pipeline.Database, error) {
	switch cfg.Module {
	case "mongo":
		database := db.NewMongoDatabase(db.MongoConfig{URI: cfg.URI, Database: cfg.Database})
		if err := database.Connect(ctx); err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		built.closers = append(built.closers, database.Close)
		return database, nil
	case "postgres":
		database := db.NewPostgresDatabase(db.PostgresConfig{DSN: cfg.DSN})
		if err := database.Connect(ctx); err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		built.closers = append(built.closers, database.Close)
		return database, nil
	default:
		return nil, fmt.Errorf("database: unknown module %q", cfg.Module)
	}
}

func buildFileStore(cfg config.FileStoreConfig) (pipeline.FileStore, error) {
	switch cfg.Module {
	case "supabase":
		store, err := filestore.NewSupabaseFileStore(filestore.SupabaseConfig{
			URL:    cfg.URL,
			Key:    cfg.Key,
			Bucket: cfg.Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("file_store: %w", err)
		}
		return store, nil
	case "local":
		store, err := filestore.NewLocalFileStore(cfg.Directory)
		if err != nil {
			return nil, fmt.Errorf("file_store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("file_store: unknown module %q", cfg.Module)
	}
}

func buildScraper(cfg config.ScraperConfig) (pipeline.EventScraper, error) {
	switch cfg.Module {
	case "legistar":
		return scraper.NewLegistarScraper(scraper.LegistarConfig{
			CalendarURL:       cfg.CalendarURL,
			Client:            cfg.Client,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}), nil
	case "rss":
		return scraper.NewRSSScraper(scraper.RSSConfig{
			FeedURL: cfg.FeedURL,
			Body:    cfg.Body,
		}), nil
	default:
		return nil, fmt.Errorf("scraper: unknown module %q", cfg.Module)
	}
}

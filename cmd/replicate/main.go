// Command replicate copies gathered documents from one deployment
// store to another, e.g. when moving a city from MongoDB to Postgres.
// Source and destination are each described by a pipeline config file;
// only their database sections are used.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"council-gather/pkg/config"
	"council-gather/pkg/db"
	"council-gather/pkg/pipeline"
	"council-gather/pkg/replication"
)

func main() {
	var (
		sourcePath = flag.String("source-config", "", "Config file describing the source store (required)")
		destPath   = flag.String("dest-config", "", "Config file describing the destination store (required)")
		workers    = flag.Int("workers", 5, "Number of parallel event copies")
	)
	flag.Parse()

	if *sourcePath == "" || *destPath == "" {
		log.Fatalf("Both -source-config and -dest-config are required")
	}

	ctx := context.Background()

	source, closeSource, err := connectDatabase(ctx, *sourcePath)
	if err != nil {
		log.Fatalf("Failed to connect source: %v", err)
	}
	defer closeSource(ctx)

	dest, closeDest, err := connectDatabase(ctx, *destPath)
	if err != nil {
		log.Fatalf("Failed to connect destination: %v", err)
	}
	defer closeDest(ctx)

	replicator, err := replication.NewReplicator(replication.Config{
		Source:      source,
		Destination: dest,
		Workers:     *workers,
	})
	if err != nil {
		log.Fatalf("Failed to build replicator: %v", err)
	}

	start := time.Now()
	copied, err := replicator.Replicate(ctx)
	if err != nil {
		log.Fatalf("Replication failed after copying %d events: %v", copied, err)
	}
	log.Printf("Copied %d events. Duration: %s", copied, time.Since(start))
}

func connectDatabase(ctx context.Context, path string) (pipeline.Database, func(context.Context) error, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Database.Module {
	case "mongo":
		database := db.NewMongoDatabase(db.MongoConfig{URI: cfg.Database.URI, Database: cfg.Database.Database})
		if err := database.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return database, database.Close, nil
	default:
		database := db.NewPostgresDatabase(db.PostgresConfig{DSN: cfg.Database.DSN})
		if err := database.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return database, database.Close, nil
	}
}

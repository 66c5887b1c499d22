package main

import (
	"context"
	"flag"
	"log"
	"time"

	"council-gather/pkg/config"
	"council-gather/pkg/modules"
	"council-gather/pkg/pipeline"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to pipeline configuration file")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	built, err := modules.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build pipeline modules: %v", err)
	}
	defer built.Close(ctx)

	orch, err := pipeline.NewOrchestrator(built.Deps, built.Options)
	if err != nil {
		log.Fatalf("Failed to build orchestrator: %v", err)
	}

	end := time.Now().UTC()
	start := end.Add(-cfg.TimeSpan.Std())
	if cfg.Backfill {
		// Backfill gathers everything the source still publishes.
		start = time.Time{}
	}

	log.Printf("Gathering events between %s and %s", start, end)
	began := time.Now()
	summary, err := orch.Run(ctx, pipeline.TimeSpan{Start: start, End: end})
	if err != nil {
		log.Fatalf("Gather run failed: %v", err)
	}

	log.Printf("Done. Discovered: %d, merged: %d, skipped: %d, failed: %d. Duration: %s",
		summary.Discovered, summary.Merged, summary.Skipped, summary.Failed, time.Since(began))
	for _, failure := range summary.Failures {
		log.Printf("Failed candidate: %s", failure)
	}
}

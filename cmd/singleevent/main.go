// Command singleevent gathers one event from explicit flags instead of
// a scraped calendar. Useful for re-gathering an event whose first pass
// failed, or for pulling in an event the portal never listed.
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
		body       = flag.String("body", "", "Governing body name (required)")
		date       = flag.String("date", "", "Event date, YYYY-MM-DD (required)")
		videoURI   = flag.String("video", "", "Recording URI")
		captionURI = flag.String("captions", "", "Published caption file URI")
		sourceURI  = flag.String("source", "", "Event page URI")
		externalID = flag.String("external-id", "", "Source system's event id")
	)
	flag.Parse()

	if *body == "" || *date == "" {
		log.Fatalf("Both -body and -date are required")
	}
	eventDT, err := time.Parse("2006-01-02", *date)
	if err != nil {
		log.Fatalf("Failed to parse -date: %v", err)
	}

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

	raw := pipeline.RawEvent{
		ExternalSourceID: *externalID,
		Body:             *body,
		EventDateTime:    eventDT,
		VideoURI:         *videoURI,
		CaptionURI:       *captionURI,
		SourceURI:        *sourceURI,
	}

	summary, err := orch.ProcessOne(ctx, raw)
	if err != nil {
		log.Fatalf("Gather failed: %v", err)
	}
	log.Printf("Done. Merged: %d, skipped: %d", summary.Merged, summary.Skipped)
}

package server

import (
	"context"
	"fmt"
	"log"

	"github.com/disinfo-zone/voidwire-sub000/config"
	"github.com/disinfo-zone/voidwire-sub000/internal/cache"
	"github.com/disinfo-zone/voidwire-sub000/internal/pipeline"
	"github.com/disinfo-zone/voidwire-sub000/internal/sources"
	"github.com/disinfo-zone/voidwire-sub000/internal/store"
	"github.com/disinfo-zone/voidwire-sub000/internal/telemetry"
	"github.com/disinfo-zone/voidwire-sub000/provider"
)

// BuildOrchestrator wires the full pipeline from configuration. The
// artifact cache comes back nil when Redis is unreachable; the pipeline
// runs without the publish cache in that case.
func BuildOrchestrator(ctx context.Context, cfg *config.Config, logger *log.Logger) (*pipeline.Orchestrator, *store.Store, *cache.ArtifactCache, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}

	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	var artifacts *cache.ArtifactCache
	rdb, err := cache.Conn(ctx, cfg.Storage.Redis)
	if err != nil {
		logger.Printf("redis unavailable, running without the publish cache: %v", err)
	} else {
		artifacts = cache.NewArtifactCache(rdb, 0)
	}

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("building LLM gateway: %w", err)
	}

	tel := telemetry.NewTelemetry(cfg.LLM, nil)
	fetcher := sources.NewHTTPFetcher(cfg.Sources.Timeout, nil)
	distiller := pipeline.NewDistiller(llm, tel, nil)
	selector := pipeline.NewSelector(cfg.Pipeline.Selection)
	threads := pipeline.NewThreadTracker(st, cfg.Pipeline.Threads, nil)
	synth := pipeline.NewSynthesizer(llm, cfg.Pipeline.Synthesis, tel, nil)

	var publisher pipeline.Publisher
	if artifacts != nil {
		publisher = artifacts
	}
	orch := pipeline.NewOrchestrator(cfg, st, st, fetcher, distiller, selector, threads, synth, publisher, tel, logger)
	return orch, st, artifacts, nil
}

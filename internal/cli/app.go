package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/uhmm/internal/aggregate"
	"github.com/ppiankov/uhmm/internal/broadcast"
	"github.com/ppiankov/uhmm/internal/cache"
	"github.com/ppiankov/uhmm/internal/extract"
	"github.com/ppiankov/uhmm/internal/llm"
	"github.com/ppiankov/uhmm/internal/model"
	"github.com/ppiankov/uhmm/internal/pipeline"
	"github.com/ppiankov/uhmm/internal/search"
	"github.com/ppiankov/uhmm/internal/telemetry"
	"github.com/ppiankov/uhmm/internal/verify"
	"github.com/ppiankov/uhmm/internal/worker"
)

// app holds the long-lived components shared by serve and replay
type app struct {
	cfg         model.Config
	telemetry   *telemetry.Provider
	verdicts    *cache.VerdictCache
	broadcaster *broadcast.Broadcaster
	pipeline    *pipeline.Pipeline
}

// newApp wires the fact-check pipeline from cfg
func newApp(ctx context.Context, cfg model.Config) (*app, error) {
	tel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	metrics := tel.Metrics

	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM))
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}

	searcher, err := search.New(cfg.Search, cfg.LLM.HTTPProxy, cfg.LLM.HTTPSProxy)
	if err != nil {
		return nil, fmt.Errorf("create search provider: %w", err)
	}

	extractor := extract.NewAdapter(
		llm.NewClaimExtractor(provider, cfg.Extraction.Model, cfg.Extraction.MaxClaims),
		cfg.Extraction.Timeout,
		metrics,
	)

	verdicts := cache.NewVerdictCache(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	verifier := verify.New(
		verdicts,
		searcher,
		llm.NewJudge(provider, cfg.Verification.Model, cfg.Verification.StrictEvidence),
		newLimiter(cfg.RateLimiting),
		metrics,
		verify.OptionsFromConfig(cfg),
	)

	broadcaster := broadcast.New(broadcast.OptionsFromConfig(cfg.Broadcast), metrics)

	var dedupe *aggregate.Deduplicator
	if ttl := cfg.Aggregator.DedupeTTL; ttl > 0 {
		dedupe = aggregate.NewDeduplicator(cache.NewMemoryCache(ttl, 2*ttl), ttl)
	}

	p := pipeline.New(pipeline.OptionsFromConfig(cfg), extractor, verifier, broadcaster, dedupe, metrics)

	return &app{
		cfg:         cfg,
		telemetry:   tel,
		verdicts:    verdicts,
		broadcaster: broadcaster,
		pipeline:    p,
	}, nil
}

// shutdown drains queued sentences, flushes viewer queues and exporters
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.pipeline.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}
	a.broadcaster.Close(ctx)
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}

// newLimiter builds the per-collaborator limiter, applying service overrides
// on top of the default rate
func newLimiter(cfg model.RateLimitConfig) *worker.Limiter {
	limiter := worker.NewLimiter(cfg.RequestsPerSecond, cfg.BurstSize)
	for name, r := range cfg.Services {
		limiter.SetRate(name, r.RequestsPerSecond, r.BurstSize)
	}
	return limiter
}

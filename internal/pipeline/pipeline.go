// Package pipeline wires fragments through sentence aggregation, claim
// extraction and verification to the viewer broadcaster
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/uhmm/internal/aggregate"
	"github.com/ppiankov/uhmm/internal/broadcast"
	"github.com/ppiankov/uhmm/internal/logger"
	"github.com/ppiankov/uhmm/internal/model"
	"github.com/ppiankov/uhmm/internal/telemetry"
	"github.com/ppiankov/uhmm/internal/worker"
	"golang.org/x/sync/errgroup"
)

// Extractor finds claims in a sentence. It never fails: errors yield no claims.
type Extractor interface {
	Extract(ctx context.Context, s model.Sentence) []model.Claim
}

// Verifier resolves a claim to a verdict. It never fails: errors yield an
// unclear verdict.
type Verifier interface {
	Verify(ctx context.Context, c model.Claim) model.Verdict
}

// Publisher delivers events to viewers
type Publisher interface {
	Publish(e broadcast.Event) error
}

// Options tunes the pipeline
type Options struct {
	Aggregator    aggregate.Options
	FlushInterval time.Duration
	Workers       int
	QueueSize     int
	SessionIdle   time.Duration // Empty buffers idle this long are released
}

// OptionsFromConfig builds Options from the runtime configuration
func OptionsFromConfig(cfg model.Config) Options {
	return Options{
		Aggregator:    aggregate.OptionsFromConfig(cfg.Aggregator),
		FlushInterval: cfg.Aggregator.FlushInterval,
		Workers:       cfg.Workers.Size,
		QueueSize:     cfg.Workers.QueueSize,
	}
}

// Stats counts pipeline throughput since start
type Stats struct {
	Fragments int64 `json:"fragments"`
	Sentences int64 `json:"sentences"`
	Claims    int64 `json:"claims"`
	Verdicts  int64 `json:"verdicts"`
}

// Pipeline orchestrates the fact-check flow. Each completed sentence is
// one job on the worker pool; its claims verify concurrently and verdicts
// are published as they complete.
type Pipeline struct {
	opts      Options
	extractor Extractor
	verifier  Verifier
	publisher Publisher
	dedupe    *aggregate.Deduplicator
	metrics   *telemetry.Metrics
	pool      *worker.Pool
	log       *logger.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*aggregate.Aggregator

	stopFlush chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	fragments atomic.Int64
	sentences atomic.Int64
	claims    atomic.Int64
	verdicts  atomic.Int64
}

// New creates a pipeline. dedupe and metrics may be nil.
func New(opts Options, extractor Extractor, verifier Verifier, publisher Publisher, dedupe *aggregate.Deduplicator, metrics *telemetry.Metrics) *Pipeline {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.SessionIdle <= 0 {
		opts.SessionIdle = 2 * opts.Aggregator.MaxAge
		if opts.SessionIdle <= 0 {
			opts.SessionIdle = time.Minute
		}
	}

	p := &Pipeline{
		opts:      opts,
		extractor: extractor,
		verifier:  verifier,
		publisher: publisher,
		dedupe:    dedupe,
		metrics:   metrics,
		log:       logger.Named("pipeline"),
		now:       time.Now,
		sessions:  make(map[string]*aggregate.Aggregator),
		stopFlush: make(chan struct{}),
	}
	p.pool = worker.NewPool(opts.Workers, opts.QueueSize, p.onResult)
	return p
}

// Start launches the worker pool and the periodic run-on flush. Sentence
// jobs outlive ctx so that Shutdown can drain them.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.pool.Start(context.WithoutCancel(ctx))
		go p.flushLoop(ctx)
		p.log.Info().
			Int("workers", p.opts.Workers).
			Dur("flush_interval", p.opts.FlushInterval).
			Msg("pipeline started")
	})
}

// Ingest accepts one transcript fragment. Every non-duplicate fragment is
// published as a transcript event; completed sentences are queued for
// fact-checking.
func (p *Pipeline) Ingest(ctx context.Context, f model.TranscriptFragment) error {
	p.fragments.Add(1)

	if p.dedupe.Duplicate(f) {
		p.log.Debug().Str("session", f.SessionID).Str("text", f.Text).Msg("dropping duplicate fragment")
		return nil
	}

	if err := p.publisher.Publish(broadcast.TranscriptEvent{
		Text:      f.Text,
		Speaker:   f.Speaker,
		IsFinal:   f.IsFinal,
		Timestamp: p.timestamp(f.SourceTimestamp),
	}); err != nil {
		p.log.Warn().Err(err).Msg("publishing transcript event")
	}

	s, ok := p.ingest(f)
	if !ok {
		return nil
	}
	return p.dispatch(ctx, s)
}

// EndSession flushes whatever the session has buffered and forgets it
func (p *Pipeline) EndSession(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	agg, ok := p.sessions[sessionID]
	delete(p.sessions, sessionID)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	s, ok := agg.Flush()
	if !ok {
		return nil
	}
	return p.dispatch(ctx, s)
}

// Shutdown ends every session, then waits for queued sentences to finish
// until ctx is done
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopFlush) })

	p.mu.Lock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := p.EndSession(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	if err := p.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	st := p.Stats()
	p.log.Info().
		Int64("sentences", st.Sentences).
		Int64("claims", st.Claims).
		Int64("verdicts", st.Verdicts).
		Msg("pipeline stopped")
	return errors.Join(errs...)
}

// Stats returns throughput counters
func (p *Pipeline) Stats() Stats {
	return Stats{
		Fragments: p.fragments.Load(),
		Sentences: p.sentences.Load(),
		Claims:    p.claims.Load(),
		Verdicts:  p.verdicts.Load(),
	}
}

// Sessions returns the number of speech sessions with live buffers
func (p *Pipeline) Sessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// ingest feeds f to its session's aggregator. The session map stays locked
// so an idle eviction never races a fragment into a forgotten buffer.
func (p *Pipeline) ingest(f model.TranscriptFragment) (model.Sentence, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	agg, ok := p.sessions[f.SessionID]
	if !ok {
		agg = aggregate.New(f.SessionID, p.opts.Aggregator)
		p.sessions[f.SessionID] = agg
	}
	return agg.Ingest(f)
}

// dispatch queues a sentence for fact-checking
func (p *Pipeline) dispatch(ctx context.Context, s model.Sentence) error {
	p.sentences.Add(1)
	p.metrics.Sentence(ctx, s.Forced)
	p.log.Debug().
		Str("session", s.SessionID).
		Bool("forced", s.Forced).
		Str("text", s.Text).
		Msg("sentence complete")

	err := p.pool.Submit(ctx, worker.JobFunc(func(jctx context.Context) error {
		return p.process(jctx, s)
	}))
	if err != nil {
		p.log.Warn().Err(err).Str("session", s.SessionID).Msg("dropping sentence")
	}
	return err
}

// process extracts claims from a sentence and verifies them concurrently
func (p *Pipeline) process(ctx context.Context, s model.Sentence) error {
	claims := p.extractor.Extract(ctx, s)
	if len(claims) == 0 {
		return nil
	}
	p.claims.Add(int64(len(claims)))

	var g errgroup.Group
	for _, c := range claims {
		g.Go(func() error {
			v := p.verify(ctx, s, c)
			p.verdicts.Add(1)

			p.log.Info().
				Str("session", s.SessionID).
				Str("claim", c.Text).
				Str("category", string(c.Category)).
				Str("status", string(v.Status)).
				Float64("confidence", v.Confidence).
				Msg("verdict")

			return p.publisher.Publish(broadcast.VerdictEvent{
				Transcript: s.Text,
				Speaker:    s.Speaker,
				Verdict:    v,
				Timestamp:  p.now(),
			})
		})
	}
	return g.Wait()
}

// verify resolves one claim, degrading a panic to an unclear verdict so the
// sentence's other claims still publish. The verdict carries this claim's
// text even when it was shared with an identical claim.
func (p *Pipeline) verify(ctx context.Context, s model.Sentence, c model.Claim) (v model.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().
				Interface("panic", r).
				Str("session", s.SessionID).
				Str("claim", c.Text).
				Msg("verification panicked")
			v = model.UnclearVerdict(c.Text, p.now())
		}
	}()

	v = p.verifier.Verify(ctx, c)
	v.ClaimText = c.Text
	return v
}

func (p *Pipeline) onResult(r worker.Result) {
	if err := r.GetError(); err != nil {
		p.log.Warn().Err(err).Msg("sentence job failed")
	}
}

// flushLoop force-flushes run-on buffers every FlushInterval
func (p *Pipeline) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopFlush:
			return
		case <-ticker.C:
			p.flushStale(ctx, p.now())
		}
	}
}

func (p *Pipeline) flushStale(ctx context.Context, now time.Time) {
	p.mu.Lock()
	aggs := make([]*aggregate.Aggregator, 0, len(p.sessions))
	for _, agg := range p.sessions {
		aggs = append(aggs, agg)
	}
	p.mu.Unlock()

	for _, agg := range aggs {
		if s, ok := agg.FlushStale(now); ok {
			_ = p.dispatch(ctx, s)
		}
	}

	p.mu.Lock()
	for id, agg := range p.sessions {
		if agg.Idle(now, p.opts.SessionIdle) {
			delete(p.sessions, id)
			p.log.Debug().Str("session", id).Msg("releasing idle session")
		}
	}
	p.mu.Unlock()
}

func (p *Pipeline) timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return p.now()
	}
	return t
}

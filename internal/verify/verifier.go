// Package verify checks claims against trusted evidence, sharing work
// between identical claims through the verdict cache.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/uhmm/internal/cache"
	"github.com/ppiankov/uhmm/internal/logger"
	"github.com/ppiankov/uhmm/internal/model"
	"github.com/ppiankov/uhmm/internal/telemetry"
	"github.com/ppiankov/uhmm/internal/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Rate limiter keys for the external collaborators
const (
	ServiceSearch       = "search"
	ServiceVerification = "verification"
)

// Searcher is the external evidence search engine. Implementations
// return only passages from allowed domains.
type Searcher interface {
	Search(ctx context.Context, query string) ([]model.Passage, error)
}

// Judgement is the verification model's assessment of a claim
type Judgement struct {
	Status      model.Status
	Confidence  float64
	Rationale   string
	EvidenceURL string
}

// Judge is the external claim verification engine
type Judge interface {
	Judge(ctx context.Context, claim string, passages []model.Passage) (Judgement, error)
}

// Options tunes the verifier
type Options struct {
	SearchTimeout  time.Duration
	VerifyTimeout  time.Duration
	WaitTimeout    time.Duration
	InFlightPolicy string // model.InFlightWait or model.InFlightSkip
}

// OptionsFromConfig builds Options from the runtime configuration
func OptionsFromConfig(cfg model.Config) Options {
	return Options{
		SearchTimeout:  cfg.Search.Timeout,
		VerifyTimeout:  cfg.Verification.Timeout,
		WaitTimeout:    cfg.Verification.WaitTimeout,
		InFlightPolicy: cfg.Verification.InFlightPolicy,
	}
}

// Verifier resolves claims to verdicts. It never returns an error: any
// failure degrades to an unclear verdict.
type Verifier struct {
	cache    *cache.VerdictCache
	searcher Searcher
	judge    Judge
	limiter  *worker.Limiter
	metrics  *telemetry.Metrics
	opts     Options
	log      *logger.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// New creates a verifier. limiter and metrics may be nil.
func New(vc *cache.VerdictCache, searcher Searcher, judge Judge, limiter *worker.Limiter, metrics *telemetry.Metrics, opts Options) *Verifier {
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = time.Second
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = time.Second
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 5 * time.Second
	}
	if opts.InFlightPolicy == "" {
		opts.InFlightPolicy = model.InFlightWait
	}

	return &Verifier{
		cache:    vc,
		searcher: searcher,
		judge:    judge,
		limiter:  limiter,
		metrics:  metrics,
		opts:     opts,
		log:      logger.Named("verify"),
		tracer:   otel.Tracer("github.com/ppiankov/uhmm/internal/verify"),
		now:      time.Now,
	}
}

// Verify returns the verdict for claim, performing at most one external
// verification per normalized claim text across all concurrent callers
func (v *Verifier) Verify(ctx context.Context, claim model.Claim) model.Verdict {
	key := model.NewCacheKey(claim.Text)
	if key == "" {
		return model.UnclearVerdict(claim.Text, v.now())
	}

	lookup := v.cache.GetOrReserve(key)
	v.metrics.CacheLookup(ctx, lookup.Outcome.String())

	switch lookup.Outcome {
	case cache.Hit:
		return lookup.Verdict

	case cache.InFlight:
		return v.awaitInFlight(ctx, lookup, claim)

	default:
		return v.own(ctx, lookup.Token, claim)
	}
}

// own resolves a reservation this caller holds. The token is always
// released, including when a collaborator panics.
func (v *Verifier) own(ctx context.Context, tok cache.Token, claim model.Claim) (verdict model.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			v.fail(ctx, tok, claim, fmt.Errorf("verification panic: %v", r))
			verdict = model.UnclearVerdict(claim.Text, v.now())
		}
	}()

	verdict, err := v.resolve(ctx, claim.Text)
	if err != nil {
		v.fail(ctx, tok, claim, err)
		return model.UnclearVerdict(claim.Text, v.now())
	}
	if err := v.cache.Complete(tok, verdict); err != nil {
		v.log.Warn().Err(err).Str("claim", claim.Text).Msg("completing reservation")
	}
	v.metrics.Verdict(ctx, verdict.Status)
	return verdict
}

// awaitInFlight applies the in-flight policy to a claim someone else is
// already verifying. The returned unclear verdicts are never cached.
func (v *Verifier) awaitInFlight(ctx context.Context, lookup cache.Lookup, claim model.Claim) model.Verdict {
	if v.opts.InFlightPolicy == model.InFlightSkip {
		return model.UnclearVerdict(claim.Text, v.now())
	}

	wctx, cancel := context.WithTimeout(ctx, v.opts.WaitTimeout)
	defer cancel()

	verdict, err := lookup.Wait(wctx)
	if err != nil {
		v.log.Debug().
			Err(model.WrapDeadline("wait", v.opts.WaitTimeout, err)).
			Str("claim", claim.Text).
			Msg("shared verification did not complete")
		return model.UnclearVerdict(claim.Text, v.now())
	}
	return verdict
}

func (v *Verifier) fail(ctx context.Context, tok cache.Token, claim model.Claim, err error) {
	if ferr := v.cache.Fail(tok, err); ferr != nil {
		v.log.Warn().Err(ferr).Str("claim", claim.Text).Msg("failing reservation")
	}
	v.metrics.Verdict(ctx, model.StatusUnclear)
	v.log.Warn().
		Err(err).
		Str("kind", model.Classify(err)).
		Str("claim", claim.Text).
		Str("category", string(claim.Category)).
		Msg("verification failed")
}

// resolve runs search and judgement for an owned reservation
func (v *Verifier) resolve(ctx context.Context, text string) (model.Verdict, error) {
	passages, err := v.search(ctx, text)
	if err != nil {
		return model.Verdict{}, err
	}
	if len(passages) == 0 {
		v.log.Debug().Err(&model.NoEvidenceError{Claim: text}).Msg("resolving as not found")
		return model.NotFoundVerdict(text, v.now()), nil
	}

	j, err := v.assess(ctx, text, passages)
	if err != nil {
		return model.Verdict{}, err
	}

	return model.Verdict{
		ClaimText:   text,
		Status:      j.Status,
		Confidence:  j.Confidence,
		Rationale:   j.Rationale,
		EvidenceURL: j.EvidenceURL,
		VerifiedAt:  v.now(),
	}, nil
}

func (v *Verifier) search(ctx context.Context, text string) ([]model.Passage, error) {
	ctx, cancel := context.WithTimeout(ctx, v.opts.SearchTimeout)
	defer cancel()

	ctx, span := v.tracer.Start(ctx, "verify.search")
	defer span.End()

	start := v.now()
	defer func() { v.metrics.ObserveStage(ctx, ServiceSearch, v.now().Sub(start)) }()

	if err := v.limiter.Wait(ctx, ServiceSearch); err != nil {
		return nil, v.record(ctx, span, ServiceSearch, v.opts.SearchTimeout, err)
	}

	passages, err := v.searcher.Search(ctx, text)
	if err != nil {
		return nil, v.record(ctx, span, ServiceSearch, v.opts.SearchTimeout, err)
	}
	span.SetAttributes(attribute.Int("passages", len(passages)))
	return passages, nil
}

func (v *Verifier) assess(ctx context.Context, text string, passages []model.Passage) (Judgement, error) {
	ctx, cancel := context.WithTimeout(ctx, v.opts.VerifyTimeout)
	defer cancel()

	ctx, span := v.tracer.Start(ctx, "verify.judge")
	defer span.End()

	start := v.now()
	defer func() { v.metrics.ObserveStage(ctx, ServiceVerification, v.now().Sub(start)) }()

	if err := v.limiter.Wait(ctx, ServiceVerification); err != nil {
		return Judgement{}, v.record(ctx, span, ServiceVerification, v.opts.VerifyTimeout, err)
	}

	j, err := v.judge.Judge(ctx, text, passages)
	if err != nil {
		return Judgement{}, v.record(ctx, span, ServiceVerification, v.opts.VerifyTimeout, err)
	}
	span.SetAttributes(attribute.String("status", string(j.Status)))
	return j, nil
}

// record wraps a collaborator error, marks the span and counts the failure
func (v *Verifier) record(ctx context.Context, span trace.Span, stage string, after time.Duration, err error) error {
	err = model.WrapDeadline(stage, after, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, model.Classify(err))
	v.metrics.Failure(context.WithoutCancel(ctx), stage, err)
	return err
}

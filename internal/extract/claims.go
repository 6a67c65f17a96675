// Package extract turns completed sentences into typed claims
package extract

import (
	"context"
	"strings"
	"time"

	"github.com/ppiankov/uhmm/internal/logger"
	"github.com/ppiankov/uhmm/internal/model"
	"github.com/ppiankov/uhmm/internal/telemetry"
)

// RawClaim is a claim as returned by the extraction service, before validation
type RawClaim struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// Service is the external claim extraction engine
type Service interface {
	ExtractClaims(ctx context.Context, sentence string) ([]RawClaim, error)
}

// Adapter calls the extraction service under a hard timeout and never
// propagates its failures: any error yields an empty claim list.
type Adapter struct {
	service Service
	timeout time.Duration
	metrics *telemetry.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// NewAdapter creates an adapter. metrics may be nil.
func NewAdapter(service Service, timeout time.Duration, metrics *telemetry.Metrics) *Adapter {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Adapter{
		service: service,
		timeout: timeout,
		metrics: metrics,
		log:     logger.Named("extract"),
		now:     time.Now,
	}
}

// Extract returns the validated claims found in s
func (a *Adapter) Extract(ctx context.Context, s model.Sentence) []model.Claim {
	if strings.TrimSpace(s.Text) == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := a.now()
	raw, err := a.service.ExtractClaims(ctx, s.Text)
	a.metrics.ObserveStage(ctx, "extraction", a.now().Sub(start))
	if err != nil {
		err = model.WrapDeadline("extraction", a.timeout, err)
		a.metrics.Failure(context.WithoutCancel(ctx), "extraction", err)
		a.log.Warn().
			Err(err).
			Str("kind", model.Classify(err)).
			Str("session", s.SessionID).
			Msg("claim extraction failed, skipping sentence")
		return nil
	}

	claims := a.validate(raw, s)
	if len(claims) > 0 {
		a.log.Debug().
			Int("count", len(claims)).
			Str("session", s.SessionID).
			Msg("extracted claims")
	}
	return claims
}

// validate trims, drops empty and duplicate claims and maps categories
func (a *Adapter) validate(raw []RawClaim, s model.Sentence) []model.Claim {
	extractedAt := a.now()
	seen := make(map[string]bool)
	claims := make([]model.Claim, 0, len(raw))

	for _, rc := range raw {
		text := strings.TrimSpace(rc.Text)
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if seen[key] {
			continue
		}
		seen[key] = true

		claims = append(claims, model.Claim{
			Text:          text,
			Category:      model.ParseCategory(rc.Type),
			ExtractedFrom: s,
			ExtractedAt:   extractedAt,
		})
	}

	return claims
}

// Package source feeds speech-to-text fragments into the pipeline
package source

import (
	"context"

	"github.com/ppiankov/uhmm/internal/model"
)

// Sink consumes fragments. The pipeline implements it.
type Sink interface {
	Ingest(ctx context.Context, f model.TranscriptFragment) error
	EndSession(ctx context.Context, sessionID string) error
}

// Source produces fragments until ctx is done or input is exhausted
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

// Package aggregate turns streaming transcript fragments into sentences
package aggregate

import (
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/uhmm/internal/logger"
	"github.com/ppiankov/uhmm/internal/model"
)

// Options tunes sentence boundary detection
type Options struct {
	MinWords int           // A sentence needs more words than this
	MaxChars int           // Force flush once the buffer grows past this
	MaxAge   time.Duration // Force flush once the buffer is older than this
}

// OptionsFromConfig converts the aggregator section of the config
func OptionsFromConfig(cfg model.AggregatorConfig) Options {
	return Options{
		MinWords: cfg.MinWords,
		MaxChars: cfg.MaxChars,
		MaxAge:   cfg.MaxAge,
	}
}

// Aggregator buffers the fragments of one speech session until they form a
// sentence. It is safe for concurrent use.
type Aggregator struct {
	mu        sync.Mutex
	sessionID string
	opts      Options
	parts     []string // Committed text
	open      string   // Latest cumulative snapshot of the utterance in progress
	size      int
	speaker   string
	startedAt time.Time
	lastSeen  time.Time
	now       func() time.Time
	log       *logger.Logger
}

// New creates an aggregator for a speech session
func New(sessionID string, opts Options) *Aggregator {
	return &Aggregator{
		sessionID: sessionID,
		opts:      opts,
		now:       time.Now,
		log:       logger.Named("aggregate"),
	}
}

// Ingest appends a fragment and returns a Sentence when one completes.
// Final fragments complete a sentence when the buffer ends in terminal
// punctuation and holds more than MinWords words. Any fragment may force a
// run-on flush once MaxChars or MaxAge is exceeded.
//
// A cumulative fragment replaces the open snapshot instead of appending, so
// engines that re-send the whole utterance on every partial never repeat
// text. A final fragment commits the snapshot.
func (a *Aggregator) Ingest(f model.TranscriptFragment) (model.Sentence, bool) {
	text := strings.TrimSpace(f.Text)
	if text == "" {
		a.log.Debug().
			Str("session", a.sessionID).
			Bool("is_final", f.IsFinal).
			Msg("dropping empty fragment")
		return model.Sentence{}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.empty() {
		a.startedAt = now
	}
	a.lastSeen = now

	if f.Cumulative {
		a.open = text
	} else {
		a.commit()
		a.add(text)
	}
	if f.IsFinal {
		a.commit()
	}
	if f.Speaker != "" {
		a.speaker = f.Speaker
	}

	if f.IsFinal && a.complete() {
		return a.emit(now, false), true
	}
	if a.overdue(now) {
		a.log.Debug().
			Str("session", a.sessionID).
			Int("chars", a.length()).
			Msg("force flushing run-on buffer")
		return a.emit(now, true), true
	}
	return model.Sentence{}, false
}

// FlushStale force-flushes the buffer if it has outgrown MaxChars or MaxAge.
// The pipeline calls it on every flush tick.
func (a *Aggregator) FlushStale(now time.Time) (model.Sentence, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.empty() || !a.overdue(now) {
		return model.Sentence{}, false
	}
	return a.emit(now, true), true
}

// Idle reports whether the buffer is empty and has seen no fragment for
// longer than after, meaning the session can be released
func (a *Aggregator) Idle(now time.Time, after time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.empty() && now.Sub(a.lastSeen) > after
}

// Flush emits whatever is buffered, used when the speech session ends
func (a *Aggregator) Flush() (model.Sentence, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.empty() {
		return model.Sentence{}, false
	}
	return a.emit(a.now(), true), true
}

// Pending returns the buffered text that has not formed a sentence yet
func (a *Aggregator) Pending() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text()
}

func (a *Aggregator) empty() bool {
	return len(a.parts) == 0 && a.open == ""
}

func (a *Aggregator) add(text string) {
	a.parts = append(a.parts, text)
	a.size += len(text)
	if len(a.parts) > 1 {
		a.size++
	}
}

// commit moves the open snapshot into the committed text
func (a *Aggregator) commit() {
	if a.open != "" {
		a.add(a.open)
		a.open = ""
	}
}

func (a *Aggregator) text() string {
	if a.open == "" {
		return strings.Join(a.parts, " ")
	}
	return strings.Join(append(a.parts[:len(a.parts):len(a.parts)], a.open), " ")
}

func (a *Aggregator) length() int {
	switch {
	case a.open == "":
		return a.size
	case len(a.parts) == 0:
		return len(a.open)
	default:
		return a.size + 1 + len(a.open)
	}
}

func (a *Aggregator) complete() bool {
	if len(a.parts) == 0 {
		return false
	}
	last := a.parts[len(a.parts)-1]
	switch last[len(last)-1] {
	case '.', '!', '?':
	default:
		return false
	}
	words := 0
	for _, p := range a.parts {
		words += len(strings.Fields(p))
	}
	return words > a.opts.MinWords
}

func (a *Aggregator) overdue(now time.Time) bool {
	if a.opts.MaxChars > 0 && a.length() > a.opts.MaxChars {
		return true
	}
	return a.opts.MaxAge > 0 && now.Sub(a.startedAt) > a.opts.MaxAge
}

func (a *Aggregator) emit(now time.Time, forced bool) model.Sentence {
	s := model.Sentence{
		SessionID:   a.sessionID,
		Text:        a.text(),
		Speaker:     a.speaker,
		Forced:      forced,
		CompletedAt: now,
	}
	a.parts = a.parts[:0]
	a.open = ""
	a.size = 0
	a.speaker = ""
	a.startedAt = time.Time{}
	return s
}

package aggregate

import (
	"strings"
	"time"

	"github.com/ppiankov/uhmm/internal/cache"
	"github.com/ppiankov/uhmm/internal/model"
)

// Deduplicator suppresses final fragments the STT engine repeats within a
// short window, which happens when it re-emits a segment after a reconnect.
type Deduplicator struct {
	store cache.Store
	ttl   time.Duration
}

// NewDeduplicator creates a deduplicator remembering fragments for ttl.
// A zero ttl disables it.
func NewDeduplicator(store cache.Store, ttl time.Duration) *Deduplicator {
	return &Deduplicator{store: store, ttl: ttl}
}

// Duplicate reports whether f repeats a final fragment already seen in the
// same session within the window. Partial fragments are never duplicates.
func (d *Deduplicator) Duplicate(f model.TranscriptFragment) bool {
	if d == nil || d.ttl <= 0 || !f.IsFinal {
		return false
	}
	normalized := string(model.NewCacheKey(f.Text))
	if strings.TrimSpace(normalized) == "" {
		return false
	}
	return !d.store.SetIfAbsent(cache.Key("fragment", f.SessionID, normalized), nil, d.ttl)
}

package model

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Status is the outcome of verifying a claim against evidence
type Status string

const (
	StatusSupported    Status = "supported"
	StatusContradicted Status = "contradicted"
	StatusUnclear      Status = "unclear"
	StatusNotFound     Status = "not_found"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusSupported, StatusContradicted, StatusUnclear, StatusNotFound:
		return true
	}
	return false
}

// Rationale strings used when no model judgement is available.
const (
	RationaleNoEvidence   = "No relevant evidence found in trusted sources."
	RationaleUnverifiable = "Could not verify this claim right now."
)

// Verdict is the result of checking one claim
type Verdict struct {
	ClaimText   string    `json:"claim"`
	Status      Status    `json:"status"`
	Confidence  float64   `json:"confidence"` // 0.0 to 1.0, as reported by the verifier
	Rationale   string    `json:"rationale"`
	EvidenceURL string    `json:"evidence_url,omitempty"`
	VerifiedAt  time.Time `json:"verified_at"`
}

// UnclearVerdict builds the degraded verdict returned when verification
// could not complete
func UnclearVerdict(claimText string, at time.Time) Verdict {
	return Verdict{
		ClaimText:  claimText,
		Status:     StatusUnclear,
		Confidence: 0,
		Rationale:  RationaleUnverifiable,
		VerifiedAt: at,
	}
}

// NotFoundVerdict builds the terminal verdict for a claim with no evidence
func NotFoundVerdict(claimText string, at time.Time) Verdict {
	return Verdict{
		ClaimText:  claimText,
		Status:     StatusNotFound,
		Confidence: 0,
		Rationale:  RationaleNoEvidence,
		VerifiedAt: at,
	}
}

// CacheKey is the normalized identity of a claim's text
type CacheKey string

// NewCacheKey normalizes claim text: NFKC, full-width folding, case
// folding, format characters removed, whitespace collapsed and trailing
// sentence punctuation trimmed.
func NewCacheKey(text string) CacheKey {
	chain := transform.Chain(
		norm.NFKC,
		width.Fold,
		cases.Fold(),
		runes.Remove(runes.In(unicode.Cf)),
	)
	folded, _, err := transform.String(chain, text)
	if err != nil {
		folded = strings.ToLower(text)
	}
	folded = strings.Join(strings.Fields(folded), " ")
	folded = strings.TrimRight(folded, ".!?;: ")
	return CacheKey(folded)
}

func (k CacheKey) String() string { return string(k) }

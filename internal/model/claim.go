package model

import (
	"strings"
	"time"
)

// TranscriptFragment is one unit of speech-to-text output
type TranscriptFragment struct {
	SessionID       string    `json:"session_id"`        // Speech session the fragment belongs to
	Text            string    `json:"text"`              // Raw recognized text
	Speaker         string    `json:"speaker,omitempty"` // Optional speaker label
	IsFinal         bool      `json:"is_final"`          // False for provisional (partial) results
	Cumulative      bool      `json:"cumulative"`        // Text repeats the whole utterance so far
	SourceTimestamp time.Time `json:"timestamp"`         // When the STT engine produced it
}

// Sentence is a completed span of speech handed to claim extraction
type Sentence struct {
	SessionID   string    `json:"session_id"`
	Text        string    `json:"text"`
	Speaker     string    `json:"speaker,omitempty"`
	Forced      bool      `json:"forced"` // Produced by run-on or session-end flush
	CompletedAt time.Time `json:"completed_at"`
}

// Claim represents a checkable factual assertion extracted from a sentence
type Claim struct {
	Text          string    `json:"text"`
	Category      Category  `json:"category"`
	ExtractedFrom Sentence  `json:"extracted_from"`
	ExtractedAt   time.Time `json:"extracted_at"`
}

// Category classifies the nature of the claim
type Category string

const (
	CategoryVersion    Category = "version"    // Software or product version facts
	CategoryAPI        Category = "api"        // API behavior and signatures
	CategoryRegulatory Category = "regulatory" // Laws, standards, compliance rules
	CategoryDefinition Category = "definition" // What something is
	CategoryNumeric    Category = "numeric"    // Quantities, dates, percentages
	CategoryDecision   Category = "decision"   // Decisions made by organizations
	CategoryOther      Category = "other"
)

// ParseCategory maps a free-form category label to a Category.
// Unknown labels map to CategoryOther.
func ParseCategory(s string) Category {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryVersion:
		return CategoryVersion
	case CategoryAPI:
		return CategoryAPI
	case CategoryRegulatory:
		return CategoryRegulatory
	case CategoryDefinition:
		return CategoryDefinition
	case CategoryNumeric:
		return CategoryNumeric
	case CategoryDecision:
		return CategoryDecision
	default:
		return CategoryOther
	}
}

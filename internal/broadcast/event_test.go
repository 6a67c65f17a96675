package broadcast

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ppiankov/uhmm/internal/model"
)

func TestEncode_Verdict(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 589000000, time.UTC)
	data, err := Encode(VerdictEvent{
		Transcript: "GDPR applies to EU residents' personal data.",
		Speaker:    "Alice",
		Verdict: model.Verdict{
			ClaimText:   "GDPR applies to EU residents' personal data.",
			Status:      model.StatusSupported,
			Confidence:  0.87,
			Rationale:   "Article 3 covers data subjects in the Union.",
			EvidenceURL: "https://gdpr-info.eu/art-3-gdpr/",
		},
		Timestamp: at,
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["type"] != "verdict" {
		t.Errorf("Expected type verdict, got %v", got["type"])
	}
	if got["timestamp"] != "2025-03-14T09:26:53.589Z" {
		t.Errorf("Unexpected timestamp %v", got["timestamp"])
	}

	d := got["data"].(map[string]any)
	want := map[string]any{
		"transcript":   "GDPR applies to EU residents' personal data.",
		"claim":        "GDPR applies to EU residents' personal data.",
		"status":       "supported",
		"confidence":   0.87,
		"rationale":    "Article 3 covers data subjects in the Union.",
		"evidence_url": "https://gdpr-info.eu/art-3-gdpr/",
		"speaker":      "Alice",
	}
	if len(d) != len(want) {
		t.Errorf("Expected %d data keys, got %d: %v", len(want), len(d), d)
	}
	for k, v := range want {
		if d[k] != v {
			t.Errorf("data[%q] = %v, want %v", k, d[k], v)
		}
	}
}

func TestEncode_OptionalFieldsOmitted(t *testing.T) {
	data, err := Encode(VerdictEvent{
		Transcript: "The moon is cheese.",
		Verdict:    model.NotFoundVerdict("The moon is cheese.", time.Now()),
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, k := range []string{"evidence_url", "speaker"} {
		if _, ok := env.Data[k]; ok {
			t.Errorf("Expected %s to be omitted", k)
		}
	}
	if env.Data["status"] != "not_found" {
		t.Errorf("Expected not_found, got %v", env.Data["status"])
	}
}

func TestEncode_Transcript(t *testing.T) {
	data, err := Encode(TranscriptEvent{Text: "Python 3.12", IsFinal: false, Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var env struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != "transcript" || env.Data["text"] != "Python 3.12" || env.Data["is_final"] != false {
		t.Errorf("Unexpected transcript frame: %s", data)
	}
}

func TestEncode_Pong(t *testing.T) {
	data, err := Encode(PongEvent{Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["type"] != "pong" {
		t.Errorf("Expected pong, got %v", got["type"])
	}
	if _, ok := got["data"]; ok {
		t.Errorf("Expected no data on pong, got %s", data)
	}
}

package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/ppiankov/uhmm/internal/model"
)

var judgePassages = []model.Passage{
	{
		Title:     "Art. 3 GDPR",
		URL:       "https://gdpr-info.eu/art-3-gdpr/",
		Text:      "This Regulation applies to the processing of personal data of data subjects who are in the Union.",
		Authority: model.TierSecondary,
	},
}

func TestJudge_Supported(t *testing.T) {
	p := newTestProvider(t, `{"status": "supported", "confidence": 0.87,
		"rationale": "Article 3 covers data subjects in the Union.",
		"evidence_url": "https://gdpr-info.eu/art-3-gdpr/"}`)

	j, err := NewJudge(p, "", true).Judge(context.Background(), "GDPR applies to EU residents.", judgePassages)
	if err != nil {
		t.Fatalf("Judge failed: %v", err)
	}
	if j.Status != model.StatusSupported {
		t.Errorf("Expected supported, got %s", j.Status)
	}
	if j.Confidence != 0.87 {
		t.Errorf("Expected confidence 0.87, got %v", j.Confidence)
	}
	if j.EvidenceURL != "https://gdpr-info.eu/art-3-gdpr/" {
		t.Errorf("Unexpected evidence URL: %s", j.EvidenceURL)
	}
}

func TestJudge_StatusIsNormalized(t *testing.T) {
	p := newTestProvider(t, `{"status": " Contradicted ", "confidence": 0.6, "rationale": "No."}`)

	j, err := NewJudge(p, "", true).Judge(context.Background(), "claim", judgePassages)
	if err != nil {
		t.Fatalf("Judge failed: %v", err)
	}
	if j.Status != model.StatusContradicted {
		t.Errorf("Expected contradicted, got %s", j.Status)
	}
}

func TestJudge_CitationLeak(t *testing.T) {
	tests := map[string]string{
		"evidence url": `{"status": "supported", "confidence": 0.9, "rationale": "ok", "evidence_url": "https://example.com/made-up"}`,
		"rationale":    `{"status": "supported", "confidence": 0.9, "rationale": "See https://example.com/other for details."}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			p := newTestProvider(t, content)
			_, err := NewJudge(p, "", true).Judge(context.Background(), "claim", judgePassages)
			if model.Classify(err) != "malformed" {
				t.Fatalf("Expected malformed error, got %v", err)
			}
			if !strings.Contains(err.Error(), "citation leak") {
				t.Errorf("Expected citation leak in error, got %v", err)
			}
		})
	}
}

func TestJudge_LenientAllowsOtherURLs(t *testing.T) {
	p := newTestProvider(t, `{"status": "supported", "confidence": 0.9, "rationale": "ok", "evidence_url": "https://example.com/other"}`)

	if _, err := NewJudge(p, "", false).Judge(context.Background(), "claim", judgePassages); err != nil {
		t.Errorf("Expected no error without strict evidence, got %v", err)
	}
}

func TestJudge_Malformed(t *testing.T) {
	tests := map[string]string{
		"unknown status":      `{"status": "probably", "confidence": 0.5}`,
		"missing confidence":  `{"status": "supported"}`,
		"confidence too high": `{"status": "supported", "confidence": 1.5}`,
		"negative confidence": `{"status": "supported", "confidence": -0.1}`,
		"not json":            `The claim is supported.`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			p := newTestProvider(t, content)
			_, err := NewJudge(p, "", true).Judge(context.Background(), "claim", judgePassages)
			if model.Classify(err) != "malformed" {
				t.Errorf("Expected malformed error, got %v", err)
			}
		})
	}
}

func TestBuildVerificationPrompt(t *testing.T) {
	prompt := buildVerificationPrompt("GDPR applies to EU residents.", judgePassages)

	for _, want := range []string{
		"Claim: GDPR applies to EU residents.",
		`"url": "https://gdpr-info.eu/art-3-gdpr/"`,
		`"authority": "secondary"`,
		"Never cite a URL that is not in the passages",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Expected prompt to contain %q", want)
		}
	}
}

package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/uhmm/internal/model"
	"github.com/ppiankov/uhmm/internal/verify"
)

// Judge asks an LLM whether evidence passages support a claim
type Judge struct {
	provider       Provider
	model          string
	strictEvidence bool
}

// NewJudge creates a judge. With strictEvidence the model may only cite
// URLs of the passages it was given.
func NewJudge(provider Provider, modelName string, strictEvidence bool) *Judge {
	return &Judge{provider: provider, model: modelName, strictEvidence: strictEvidence}
}

type judgement struct {
	Status      string   `json:"status"`
	Confidence  *float64 `json:"confidence"`
	Rationale   string   `json:"rationale"`
	EvidenceURL string   `json:"evidence_url"`
}

// Judge implements verify.Judge
func (j *Judge) Judge(ctx context.Context, claim string, passages []model.Passage) (verify.Judgement, error) {
	resp, err := j.provider.Complete(ctx, CompletionRequest{
		System: verificationSystemPrompt,
		Prompt: buildVerificationPrompt(claim, passages),
		Model:  j.model,
		JSON:   true,
	})
	if err != nil {
		return verify.Judgement{}, err
	}

	var out judgement
	if err := decodeJSON("verification", resp.Text, &out); err != nil {
		return verify.Judgement{}, err
	}

	status := model.Status(strings.ToLower(strings.TrimSpace(out.Status)))
	if !status.Valid() {
		return verify.Judgement{}, model.Malformed("verification", fmt.Sprintf("unknown status %q", out.Status), nil)
	}
	if out.Confidence == nil {
		return verify.Judgement{}, model.Malformed("verification", "missing confidence", nil)
	}
	if *out.Confidence < 0 || *out.Confidence > 1 {
		return verify.Judgement{}, model.Malformed("verification", fmt.Sprintf("confidence %v out of range", *out.Confidence), nil)
	}

	evidenceURL := strings.TrimSpace(out.EvidenceURL)

	// CRITICAL: Verify strict evidence mode
	if j.strictEvidence {
		allowed := model.URLs(passages)
		cited := extractURLs(out.Rationale)
		if evidenceURL != "" {
			cited = append(cited, evidenceURL)
		}
		for _, u := range cited {
			if !contains(allowed, u) {
				return verify.Judgement{}, model.Malformed("verification", "citation leak: "+u, nil)
			}
		}
	}

	return verify.Judgement{
		Status:      status,
		Confidence:  *out.Confidence,
		Rationale:   strings.TrimSpace(out.Rationale),
		EvidenceURL: evidenceURL,
	}, nil
}

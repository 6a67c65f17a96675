package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ppiankov/uhmm/internal/extract"
	"github.com/ppiankov/uhmm/internal/model"
)

// ClaimExtractor asks an LLM for the checkable claims in a sentence
type ClaimExtractor struct {
	provider  Provider
	model     string
	maxClaims int
}

// NewClaimExtractor creates an extractor. An empty modelName uses the
// provider default.
func NewClaimExtractor(provider Provider, modelName string, maxClaims int) *ClaimExtractor {
	return &ClaimExtractor{provider: provider, model: modelName, maxClaims: maxClaims}
}

type extractionResponse struct {
	Claims []extract.RawClaim `json:"claims"`
}

// ExtractClaims implements extract.Service
func (e *ClaimExtractor) ExtractClaims(ctx context.Context, sentence string) ([]extract.RawClaim, error) {
	resp, err := e.provider.Complete(ctx, CompletionRequest{
		System: extractionSystemPrompt,
		Prompt: buildExtractionPrompt(sentence, e.maxClaims),
		Model:  e.model,
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := decodeJSON("extraction", resp.Text, &raw); err != nil {
		return nil, err
	}

	var claims []extract.RawClaim
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		if err := json.Unmarshal(raw, &claims); err != nil {
			return nil, model.Malformed("extraction", "claims array", err)
		}
	} else {
		var out extractionResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, model.Malformed("extraction", "claims object", err)
		}
		if out.Claims == nil {
			return nil, model.Malformed("extraction", `missing "claims" field`, nil)
		}
		claims = out.Claims
	}

	if e.maxClaims > 0 && len(claims) > e.maxClaims {
		claims = claims[:e.maxClaims]
	}
	return claims, nil
}

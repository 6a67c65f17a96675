package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/uhmm/internal/model"
)

const extractionSystemPrompt = `You extract checkable factual claims from live speech transcripts.

Return ONLY a JSON object of the form:
{"claims": [{"text": "...", "type": "..."}]}

Rules:
1. A claim is a specific, verifiable statement of fact. Skip opinions, questions, plans and small talk.
2. Rewrite each claim as a standalone sentence, resolving pronouns from context.
3. "type" is one of: version, api, regulatory, definition, numeric, decision, other.
4. If there are no checkable claims, return {"claims": []}.
5. Never invent claims that were not said.`

const verificationSystemPrompt = `You verify claims strictly against the evidence passages you are given.
You never use outside knowledge and never fabricate information.`

// buildExtractionPrompt constructs the user prompt for claim extraction
func buildExtractionPrompt(sentence string, maxClaims int) string {
	if maxClaims <= 0 {
		maxClaims = 5
	}
	return fmt.Sprintf("Transcript:\n%s\n\nReturn at most %d claims.", sentence, maxClaims)
}

type promptPassage struct {
	Title     string `json:"title,omitempty"`
	URL       string `json:"url"`
	Authority string `json:"authority,omitempty"`
	Text      string `json:"text"`
}

// buildVerificationPrompt constructs the verification prompt with the
// strict citation allowlist
func buildVerificationPrompt(claim string, passages []model.Passage) string {
	pp := make([]promptPassage, 0, len(passages))
	for _, p := range passages {
		pp = append(pp, promptPassage{
			Title:     p.Title,
			URL:       p.URL,
			Authority: authorityLabel(p.Authority),
			Text:      p.Text,
		})
	}
	encoded, _ := json.MarshalIndent(pp, "", "  ")

	var b strings.Builder
	fmt.Fprintf(&b, "Verify this claim using the provided evidence passages.\n\n")
	fmt.Fprintf(&b, "Claim: %s\n\n", claim)
	fmt.Fprintf(&b, "Evidence passages:\n%s\n\n", encoded)
	b.WriteString(`Return JSON with:
- status: "supported" | "contradicted" | "unclear" | "not_found"
- confidence: 0.0 to 1.0
- rationale: 1-2 sentence explanation
- evidence_url: URL of the most relevant passage, copied exactly from the list above

If no passage is relevant, return "not_found" status.
Never cite a URL that is not in the passages. Never fabricate information.`)
	return b.String()
}

func authorityLabel(t model.AuthorityTier) string {
	if t == model.TierUnknown {
		return ""
	}
	return t.String()
}

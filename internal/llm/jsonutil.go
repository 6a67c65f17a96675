package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ppiankov/uhmm/internal/model"
)

var urlPattern = regexp.MustCompile(`https?://[^\s\)\]"']+`)

// decodeJSON parses a model response into v. Models sometimes wrap JSON in
// code fences or prose, so the outermost object or array is tried as a
// fallback.
func decodeJSON(op, text string, v any) error {
	text = stripCodeFence(strings.TrimSpace(text))
	if text == "" {
		return model.Malformed(op, "empty response", nil)
	}

	err := json.Unmarshal([]byte(text), v)
	if err == nil {
		return nil
	}

	embedded, ok := embeddedJSON(text)
	if !ok {
		return model.Malformed(op, "no JSON in response", err)
	}
	if err := json.Unmarshal([]byte(embedded), v); err != nil {
		return model.Malformed(op, "invalid JSON", err)
	}
	return nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// embeddedJSON returns the span from the first opening brace or bracket to
// the last matching closer
func embeddedJSON(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// extractURLs extracts all URLs from text
func extractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)

	seen := make(map[string]bool)
	var unique []string
	for _, url := range matches {
		url = strings.TrimRight(url, ".,;:!?")
		if !seen[url] {
			seen[url] = true
			unique = append(unique, url)
		}
	}

	return unique
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

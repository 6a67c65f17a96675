package llm

import (
	"testing"

	"github.com/ppiankov/uhmm/internal/model"
)

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"status": "supported"}`, "supported"},
		{"fenced", "```json\n{\"status\": \"unclear\"}\n```", "unclear"},
		{"prose", `Here you go: {"status": "not_found"} hope that helps`, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out struct {
				Status string `json:"status"`
			}
			if err := decodeJSON("test", tt.in, &out); err != nil {
				t.Fatalf("decodeJSON failed: %v", err)
			}
			if out.Status != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, out.Status)
			}
		})
	}
}

func TestDecodeJSON_Errors(t *testing.T) {
	for _, in := range []string{"", "   ", "no json here", "{broken"} {
		var out map[string]any
		err := decodeJSON("test", in, &out)
		if model.Classify(err) != "malformed" {
			t.Errorf("decodeJSON(%q): expected malformed error, got %v", in, err)
		}
	}
}

func TestExtractURLs(t *testing.T) {
	urls := extractURLs("See https://a.example/x. Also (https://b.example/y) and https://a.example/x again.")
	if len(urls) != 2 {
		t.Fatalf("Expected 2 unique URLs, got %v", urls)
	}
	if urls[0] != "https://a.example/x" || urls[1] != "https://b.example/y" {
		t.Errorf("Unexpected URLs: %v", urls)
	}
}

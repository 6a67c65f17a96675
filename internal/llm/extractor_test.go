package llm

import (
	"context"
	"testing"

	"github.com/ppiankov/uhmm/internal/model"
)

// newTestProvider returns an OpenAI-compatible provider answering with content
func newTestProvider(t *testing.T, content string) Provider {
	t.Helper()
	server := newChatServer(t, content)
	t.Cleanup(server.Close)

	p, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	return p
}

func TestClaimExtractor_Object(t *testing.T) {
	p := newTestProvider(t, `{"claims": [
		{"text": "Python 3.12 removed distutils.", "type": "version"},
		{"text": "GDPR applies to EU residents.", "type": "regulatory"}
	]}`)

	claims, err := NewClaimExtractor(p, "", 5).ExtractClaims(context.Background(), "Python 3.12 removed distutils and GDPR applies to EU residents.")
	if err != nil {
		t.Fatalf("ExtractClaims failed: %v", err)
	}
	if len(claims) != 2 {
		t.Fatalf("Expected 2 claims, got %d", len(claims))
	}
	if claims[0].Type != "version" || claims[1].Text != "GDPR applies to EU residents." {
		t.Errorf("Unexpected claims: %+v", claims)
	}
}

func TestClaimExtractor_BareArrayInCodeFence(t *testing.T) {
	p := newTestProvider(t, "```json\n[{\"text\": \"Kubernetes 1.29 is out.\", \"type\": \"version\"}]\n```")

	claims, err := NewClaimExtractor(p, "", 5).ExtractClaims(context.Background(), "Kubernetes 1.29 is out.")
	if err != nil {
		t.Fatalf("ExtractClaims failed: %v", err)
	}
	if len(claims) != 1 || claims[0].Text != "Kubernetes 1.29 is out." {
		t.Errorf("Unexpected claims: %+v", claims)
	}
}

func TestClaimExtractor_TruncatesToMaxClaims(t *testing.T) {
	p := newTestProvider(t, `{"claims": [{"text": "a"}, {"text": "b"}, {"text": "c"}]}`)

	claims, err := NewClaimExtractor(p, "", 2).ExtractClaims(context.Background(), "abc")
	if err != nil {
		t.Fatalf("ExtractClaims failed: %v", err)
	}
	if len(claims) != 2 {
		t.Errorf("Expected 2 claims, got %d", len(claims))
	}
}

func TestClaimExtractor_Malformed(t *testing.T) {
	tests := map[string]string{
		"prose":         "I could not find any claims.",
		"missing field": `{"facts": []}`,
		"wrong shape":   `{"claims": "none"}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			p := newTestProvider(t, content)
			_, err := NewClaimExtractor(p, "", 5).ExtractClaims(context.Background(), "x")
			if model.Classify(err) != "malformed" {
				t.Errorf("Expected malformed error, got %v", err)
			}
		})
	}
}

func TestClaimExtractor_EmptyList(t *testing.T) {
	p := newTestProvider(t, `{"claims": []}`)

	claims, err := NewClaimExtractor(p, "", 5).ExtractClaims(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("ExtractClaims failed: %v", err)
	}
	if len(claims) != 0 {
		t.Errorf("Expected no claims, got %+v", claims)
	}
}

package llm

import (
	"fmt"
	"strings"
)

// GroqBaseURL is the OpenAI-compatible endpoint for Groq-hosted models
const GroqBaseURL = "https://api.groq.com/openai/v1"

// NewProvider creates a new LLM provider based on configuration
func NewProvider(config Config) (Provider, error) {
	provider := strings.ToLower(config.Provider)

	switch provider {
	case "openai":
		return NewOpenAIProvider(config)

	case "groq":
		if config.BaseURL == "" {
			config.BaseURL = GroqBaseURL
		}
		p, err := NewOpenAIProvider(config)
		if err != nil {
			return nil, err
		}
		p.name = "groq"
		return p, nil

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		return nil, fmt.Errorf("no LLM provider configured (set llm.provider)")

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, groq, anthropic, ollama)", config.Provider)
	}
}

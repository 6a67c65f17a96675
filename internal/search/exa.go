package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ppiankov/uhmm/internal/model"
)

const exaDefaultBaseURL = "https://api.exa.ai"

// Exa searches with the Exa neural search API
type Exa struct {
	base
	apiKey  string
	baseURL string
}

type exaRequest struct {
	Query          string      `json:"query"`
	Type           string      `json:"type"`
	NumResults     int         `json:"numResults"`
	IncludeDomains []string    `json:"includeDomains,omitempty"`
	Contents       exaContents `json:"contents"`
}

type exaContents struct {
	Text exaText `json:"text"`
}

type exaText struct {
	MaxCharacters int `json:"maxCharacters,omitempty"`
}

type exaResponse struct {
	Results []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Text  string `json:"text"`
	} `json:"results"`
}

// NewExa creates an Exa provider. An empty base URL uses the public API.
func NewExa(cfg model.SearchConfig, client *http.Client) *Exa {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = exaDefaultBaseURL
	}
	return &Exa{
		base:    newBase(cfg, client),
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Search implements Provider
func (e *Exa) Search(ctx context.Context, query string) ([]model.Passage, error) {
	body, err := json.Marshal(exaRequest{
		Query:          query,
		Type:           "auto",
		NumResults:     e.numResults,
		IncludeDomains: e.filter.Domains(),
		Contents:       exaContents{Text: exaText{MaxCharacters: e.maxCharacters}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exa request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exa search failed with status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var out exaResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, model.Malformed("search", "exa response", err)
	}

	hits := make([]model.Passage, 0, len(out.Results))
	for _, r := range out.Results {
		hits = append(hits, model.Passage{Title: r.Title, URL: r.URL, Text: r.Text})
	}

	passages := e.passages(hits)
	e.log.Debug().
		Int("results", len(out.Results)).
		Int("passages", len(passages)).
		Msg("exa search complete")
	return passages, nil
}

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ppiankov/uhmm/internal/model"
)

const braveDefaultBaseURL = "https://api.search.brave.com"

// Brave searches with the Brave web search API. Brave has no domain
// parameter, so allowed domains are expressed as site: operators and
// results are filtered again afterwards.
type Brave struct {
	base
	apiKey  string
	baseURL string
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string   `json:"title"`
			URL         string   `json:"url"`
			Description string   `json:"description"`
			ExtraSnips  []string `json:"extra_snippets"`
		} `json:"results"`
	} `json:"web"`
}

// NewBrave creates a Brave provider. An empty base URL uses the public API.
func NewBrave(cfg model.SearchConfig, client *http.Client) *Brave {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = braveDefaultBaseURL
	}
	return &Brave{
		base:    newBase(cfg, client),
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Search implements Provider
func (b *Brave) Search(ctx context.Context, query string) ([]model.Passage, error) {
	params := url.Values{}
	params.Set("q", b.scopedQuery(query))
	// Over-fetch since results outside the allow list are dropped
	params.Set("count", strconv.Itoa(b.numResults*3))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/res/v1/web/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave search failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var out braveResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, model.Malformed("search", "brave response", err)
	}

	hits := make([]model.Passage, 0, len(out.Web.Results))
	for _, r := range out.Web.Results {
		text := r.Description
		if len(r.ExtraSnips) > 0 {
			text += " " + strings.Join(r.ExtraSnips, " ")
		}
		hits = append(hits, model.Passage{Title: r.Title, URL: r.URL, Text: text})
	}

	passages := b.passages(hits)
	b.log.Debug().
		Int("results", len(out.Web.Results)).
		Int("passages", len(passages)).
		Msg("brave search complete")
	return passages, nil
}

func (b *Brave) scopedQuery(query string) string {
	domains := b.filter.Domains()
	if len(domains) == 0 {
		return query
	}
	sites := make([]string, len(domains))
	for i, d := range domains {
		sites[i] = "site:" + d
	}
	return query + " (" + strings.Join(sites, " OR ") + ")"
}

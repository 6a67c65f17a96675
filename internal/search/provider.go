// Package search finds evidence passages for claims on trusted domains
package search

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ppiankov/uhmm/internal/logger"
	"github.com/ppiankov/uhmm/internal/model"
	"github.com/ppiankov/uhmm/internal/util"
	"github.com/ppiankov/uhmm/internal/verify"
)

// Provider is an evidence search backend
type Provider = verify.Searcher

// New creates the configured search provider
func New(cfg model.SearchConfig, httpProxy, httpsProxy string) (Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Provider)
	}

	client := util.NewHTTPClient(0, httpProxy, httpsProxy)

	switch strings.ToLower(cfg.Provider) {
	case "exa":
		return NewExa(cfg, client), nil
	case "brave":
		return NewBrave(cfg, client), nil
	default:
		return nil, fmt.Errorf("unsupported search provider: %s (supported: exa, brave)", cfg.Provider)
	}
}

// base holds what every provider shares: transport, result limits and
// post-processing of raw hits into passages
type base struct {
	httpClient    *http.Client
	filter        *DomainFilter
	authority     *AuthorityClassifier
	numResults    int
	maxCharacters int
	log           *logger.Logger
}

func newBase(cfg model.SearchConfig, client *http.Client) base {
	numResults := cfg.NumResults
	if numResults <= 0 {
		numResults = 2
	}
	if client == nil {
		client = http.DefaultClient
	}
	domains := cfg.AllowedDomains
	if len(domains) == 0 {
		domains = model.DefaultAllowedDomains
	}
	return base{
		httpClient:    client,
		filter:        NewDomainFilter(domains),
		authority:     NewAuthorityClassifier(nil, nil),
		numResults:    numResults,
		maxCharacters: cfg.MaxCharacters,
		log:           logger.Named("search"),
	}
}

// passages filters, cleans and classifies raw hits, keeping at most
// numResults distinct URLs
func (b base) passages(hits []model.Passage) []model.Passage {
	seen := make(map[string]bool)
	out := make([]model.Passage, 0, len(hits))

	for _, h := range hits {
		if len(out) >= b.numResults {
			break
		}
		u := strings.TrimSpace(h.URL)
		if u == "" || seen[u] {
			continue
		}
		if !b.filter.Allowed(u) {
			b.log.Debug().Str("url", u).Msg("dropping result outside allowed domains")
			continue
		}
		text := truncate(CleanText(h.Text), b.maxCharacters)
		if text == "" {
			continue
		}
		seen[u] = true

		out = append(out, model.Passage{
			Title:     CleanText(h.Title),
			URL:       u,
			Text:      text,
			Authority: b.authority.Classify(u),
		})
	}

	return out
}

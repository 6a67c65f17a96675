package search

import (
	"net/url"
	"strings"

	"github.com/ppiankov/uhmm/internal/logger"
	"github.com/ppiankov/uhmm/internal/model"
	"golang.org/x/net/publicsuffix"
)

// DomainFilter admits only URLs on trusted domains and their subdomains
type DomainFilter struct {
	domains []string
}

// NewDomainFilter builds a filter from a domain list. Entries that are bare
// public suffixes (such as "gov" or "co.uk") would admit whole registries
// and are skipped.
func NewDomainFilter(domains []string) *DomainFilter {
	log := logger.Named("search")
	f := &DomainFilter{}
	seen := make(map[string]bool)

	for _, d := range domains {
		d = normalizeHost(d)
		if d == "" || seen[d] {
			continue
		}
		if suffix, _ := publicsuffix.PublicSuffix(d); suffix == d {
			log.Warn().Str("domain", d).Msg("ignoring allowed domain that is a public suffix")
			continue
		}
		seen[d] = true
		f.domains = append(f.domains, d)
	}
	return f
}

// Domains returns the effective allow list
func (f *DomainFilter) Domains() []string {
	return append([]string(nil), f.domains...)
}

// Allowed reports whether rawURL is on an allowed domain. An empty filter
// admits every http(s) URL.
func (f *DomainFilter) Allowed(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return false
	}
	host := normalizeHost(parsed.Host)
	if host == "" {
		return false
	}
	if len(f.domains) == 0 {
		return true
	}
	return matchesAny(host, f.domains)
}

// AuthorityClassifier classifies passage sources into authority tiers
type AuthorityClassifier struct {
	primary   []string
	secondary []string
}

// Sources treated as primary when no overrides are configured: regulators,
// standards bodies and official project documentation
var defaultPrimaryDomains = []string{
	"eur-lex.europa.eu",
	"nist.gov",
	"docs.python.org",
	"kubernetes.io",
	"postgresql.org",
}

var defaultSecondaryDomains = []string{
	"owasp.org",
	"gdpr-info.eu",
	"wikipedia.org",
}

// NewAuthorityClassifier creates a classifier. Nil lists use the defaults.
func NewAuthorityClassifier(primary, secondary []string) *AuthorityClassifier {
	if primary == nil {
		primary = defaultPrimaryDomains
	}
	if secondary == nil {
		secondary = defaultSecondaryDomains
	}
	return &AuthorityClassifier{primary: primary, secondary: secondary}
}

// Classify classifies a URL into an authority tier
func (a *AuthorityClassifier) Classify(rawURL string) model.AuthorityTier {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return model.TierTertiary
	}
	host := normalizeHost(parsed.Host)

	if matchesAny(host, a.primary) {
		return model.TierPrimary
	}
	if matchesAny(host, a.secondary) {
		return model.TierSecondary
	}

	// Government, academic and EU institution registries
	suffix, _ := publicsuffix.PublicSuffix(host)
	switch {
	case suffix == "gov", suffix == "edu", strings.HasPrefix(suffix, "gov."), suffix == "ac.uk":
		return model.TierPrimary
	case host == "europa.eu", strings.HasSuffix(host, ".europa.eu"):
		return model.TierPrimary
	}

	return model.TierTertiary
}

func matchesAny(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// normalizeHost lowercases, strips scheme remnants, ports and a leading www.
func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimPrefix(h, "https://")
	h = strings.TrimPrefix(h, "http://")
	if i := strings.IndexByte(h, '/'); i >= 0 {
		h = h[:i]
	}
	if i := strings.LastIndexByte(h, ':'); i >= 0 {
		h = h[:i]
	}
	h = strings.TrimSuffix(h, ".")
	return strings.TrimPrefix(h, "www.")
}

package model

// Passage is a text excerpt returned by the evidence search provider
type Passage struct {
	Title     string        `json:"title,omitempty"`
	URL       string        `json:"url"`
	Text      string        `json:"text"`
	Authority AuthorityTier `json:"authority,omitempty"` // Source authority classification
}

// AuthorityTier represents the classification of source authority
type AuthorityTier int

const (
	TierUnknown   AuthorityTier = 0 // Not yet classified
	TierPrimary   AuthorityTier = 1 // Laws, regulators, standards bodies, official docs
	TierSecondary AuthorityTier = 2 // Encyclopedias, vendor docs mirrors, reputable media
	TierTertiary  AuthorityTier = 3 // Blogs, forums, personal websites
)

func (t AuthorityTier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierSecondary:
		return "secondary"
	case TierTertiary:
		return "tertiary"
	default:
		return "unknown"
	}
}

// URLs returns the passage URLs in order
func URLs(passages []Passage) []string {
	urls := make([]string, 0, len(passages))
	for _, p := range passages {
		urls = append(urls, p.URL)
	}
	return urls
}

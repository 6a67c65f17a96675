package search

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// CleanText strips markup from a search snippet and collapses whitespace
func CleanText(s string) string {
	if strings.ContainsAny(s, "<&") {
		if doc, err := html.Parse(strings.NewReader(s)); err == nil {
			s = extractVisibleText(doc)
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

// extractVisibleText extracts visible text from HTML nodes, skipping
// script and style content
func extractVisibleText(n *html.Node) string {
	var sb strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe":
				return
			}
		}

		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if sb.Len() > 0 {
					sb.WriteString(" ")
				}
				sb.WriteString(text)
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return sb.String()
}

// truncate cuts s to at most max runes
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

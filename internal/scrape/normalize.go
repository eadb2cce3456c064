package scrape

import (
	"html"
	"regexp"
	"strings"
)

// SummaryPreviewLen bounds the description preview kept on a signal.
const SummaryPreviewLen = 500

var (
	reTag        = regexp.MustCompile(`(?s)<[^>]*>`)
	reWhitespace = regexp.MustCompile(`\s+`)
	reCDATA      = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
)

// CleanText strips CDATA wrappers, HTML tags and entities and collapses
// whitespace. Feed titles and descriptions arrive in every state of
// disrepair.
func CleanText(s string) string {
	s = reCDATA.ReplaceAllString(s, "$1")
	s = reTag.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = reWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Truncate cuts s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}

// Preview is CleanText followed by the standard preview truncation.
func Preview(s string) string {
	return Truncate(CleanText(s), SummaryPreviewLen)
}

package textutil

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// StripHTML activation thresholds: short inputs and inputs without enough
// structural markers pass through untouched.
const (
	htmlMinLength  = 5000
	htmlMinMarkers = 3
)

var htmlMarkers = []string{
	"<html", "<body", "<div", "<span", "<p", "<table", "<script", "<style",
}

var (
	styleBlockRe  = regexp.MustCompile(`(?is)<style.*?</style>`)
	scriptBlockRe = regexp.MustCompile(`(?is)<script.*?</script>`)
	tagRe         = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// StripHTML removes markup from text that looks like an HTML document.
// It returns the cleaned text and the strategy used ("dom", "regex", or
// "none"). The result is never longer than the input.
func StripHTML(text string) (string, string) {
	if !looksLikeHTML(text) {
		return text, "none"
	}

	domText, domOK := stripDOM(text)
	regexText := stripRegex(text)

	best, method := regexText, "regex"
	if domOK && len(domText) <= len(regexText) {
		best, method = domText, "dom"
	}
	if len(best) > len(text) {
		return text, "none"
	}
	return best, method
}

func looksLikeHTML(text string) bool {
	if len(text) <= htmlMinLength {
		return false
	}
	lower := strings.ToLower(text)
	markers := 0
	for _, m := range htmlMarkers {
		if strings.Contains(lower, m) {
			markers++
		}
	}
	return markers >= htmlMinMarkers
}

// stripDOM parses the document and extracts visible text, skipping script and
// style subtrees entirely.
func stripDOM(text string) (string, bool) {
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return "", false
	}

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, whitespaceRe.ReplaceAllString(t, " "))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(parts, " "), true
}

// stripRegex is the fallback strategy: drop style/script blocks, then all
// tags, then collapse whitespace.
func stripRegex(text string) string {
	out := styleBlockRe.ReplaceAllString(text, " ")
	out = scriptBlockRe.ReplaceAllString(out, " ")
	out = tagRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(out, " "))
}

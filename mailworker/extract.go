package mailworker

import (
	"html"
	"regexp"
	"strings"

	"github.com/jaytaylor/html2text"

	"github.com/scribe-audio/scribe/log"
)

var (
	bareURLRegex = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	hrefRegex    = regexp.MustCompile(`(?i)href\s*=\s*["']?(https?://[^"'\s>]+)`)
)

// ExtractURLs pulls candidate URLs out of an email body. It scans the plain
// text part, then anchor targets in the HTML part, then the HTML rendered to
// text (which catches bare URLs and decodes entities like &amp; inside query
// strings). Order of first appearance is preserved and duplicates dropped.
func ExtractURLs(textPart, htmlPart string) []string {
	var ordered []string
	seen := map[string]bool{}
	add := func(raw string) {
		u := strings.TrimRight(raw, ".,;:!?")
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		ordered = append(ordered, u)
	}

	for _, m := range bareURLRegex.FindAllString(textPart, -1) {
		add(m)
	}
	if htmlPart != "" {
		// Hrefs are matched on the raw markup, so entities like &amp; in
		// query strings still need decoding.
		for _, m := range hrefRegex.FindAllStringSubmatch(htmlPart, -1) {
			add(html.UnescapeString(m[1]))
		}
		rendered, err := html2text.FromString(htmlPart, html2text.Options{TextOnly: true})
		if err != nil {
			log.LogNoRequestID("error rendering html part to text", "err", err)
		} else {
			for _, m := range bareURLRegex.FindAllString(rendered, -1) {
				add(m)
			}
		}
	}
	return ordered
}

// DeriveTag picks the routing tag for a message: the subject is lowercased
// and split on whitespace, and the first word naming a known tag wins.
func DeriveTag(subject string, known []string, fallback string) string {
	knownSet := make(map[string]bool, len(known))
	for _, tag := range known {
		knownSet[tag] = true
	}
	for _, word := range strings.Fields(strings.ToLower(subject)) {
		if knownSet[word] {
			return word
		}
	}
	return fallback
}

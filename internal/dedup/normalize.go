// Package dedup detects re-posted academic positions: it compares newly
// stored verified jobs against existing canonical posts with TF-IDF cosine
// similarity and marks the older copy as superseded, escalating ambiguous
// scores to the classification oracle.
package dedup

import (
	"regexp"
	"strings"
)

var (
	bioPrefixRe  = regexp.MustCompile(`(?s)^\[Bio:.*?\]\s*`)
	linkedPageRe = regexp.MustCompile(`(?s)\[Linked page -.*?\]`)
	urlRe        = regexp.MustCompile(`https?://\S+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize cleans post text for similarity comparison: the author-bio
// prefix, embedded link-preview annotations, and URLs contribute nothing to
// whether two posts describe the same position.
func Normalize(message string) string {
	text := bioPrefixRe.ReplaceAllString(message, "")
	text = linkedPageRe.ReplaceAllString(text, "")
	text = urlRe.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

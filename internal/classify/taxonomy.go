// Package classify turns oracle free-text replies into controlled
// classification metadata for academic position postings.
package classify

import "strings"

// Disciplines is the closed vocabulary for academic disciplines.
var Disciplines = []string{
	"Computer Science",
	"Biology",
	"Chemistry & Materials Science",
	"Physics",
	"Mathematics",
	"Medicine",
	"Psychology",
	"Economics",
	"Linguistics",
	"History",
	"Sociology & Political Science",
	"Arts & Humanities",
	"Education",
	"Other",
	"General call",
}

// PositionTypes is the closed vocabulary for position types.
var PositionTypes = []string{
	"PhD Student",
	"Postdoc",
	"Master Student",
	"Research Assistant",
}

// Classification defaults used when the oracle reply cannot be parsed.
const (
	DefaultDiscipline   = "Other"
	DefaultCountry      = "Unknown"
	DefaultPositionType = "PhD Student"
)

// MaxDisciplines caps the disciplines attached to one posting.
const MaxDisciplines = 3

// normalizeToTaxonomy maps free-text entries onto the closed vocabulary.
// Matching is fuzzy in both directions ("PhD Student position" matches
// "PhD Student"); unmatched entries are dropped, duplicates removed, and the
// result capped at limit. Returns fallback when nothing matched.
func normalizeToTaxonomy(entries []string, taxonomy []string, limit int, fallback string) []string {
	var out []string
	seen := make(map[string]bool)

	for _, entry := range entries {
		match := matchTaxonomy(entry, taxonomy)
		if match == "" || seen[match] {
			continue
		}
		seen[match] = true
		out = append(out, match)
		if len(out) == limit {
			break
		}
	}

	if len(out) == 0 {
		return []string{fallback}
	}
	return out
}

func matchTaxonomy(entry string, taxonomy []string) string {
	needle := strings.ToLower(strings.TrimSpace(entry))
	if needle == "" {
		return ""
	}
	for _, term := range taxonomy {
		lower := strings.ToLower(term)
		if strings.Contains(needle, lower) || strings.Contains(lower, needle) {
			return term
		}
	}
	return ""
}

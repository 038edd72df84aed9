// Package sources implements the pluggable post providers: the Bluesky
// search API and the ScholarshipDB listing scraper.
package sources

import (
	"context"

	"github.com/jkaufmann/scholarsync/internal/model"
)

// Source produces posts for one upstream provider.
type Source interface {
	// Name is the stable source tag used for sync-state bookkeeping.
	Name() string
	// Fetch returns posts newer than sinceTimestamp whose URIs are not in
	// existingURIs, plus the full set of URIs seen during the run (the
	// input set extended with every URI encountered). An empty
	// sinceTimestamp disables the watermark filter.
	Fetch(ctx context.Context, sinceTimestamp string, existingURIs map[string]struct{}) ([]model.Post, map[string]struct{}, error)
}

// copyURISet clones existingURIs so callers keep their set untouched.
func copyURISet(existing map[string]struct{}) map[string]struct{} {
	seen := make(map[string]struct{}, len(existing))
	for uri := range existing {
		seen[uri] = struct{}{}
	}
	return seen
}

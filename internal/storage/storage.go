// Package storage provides the persistence backends for aggregated
// postings: CSV for local runs, PostgreSQL for production.
package storage

import (
	"context"

	"github.com/jkaufmann/scholarsync/internal/model"
)

// Backend is the minimal persistence capability: upsert-by-URI storage with
// the queries the sync driver needs to bootstrap incremental fetches.
type Backend interface {
	// SavePosts upserts posts and returns how many were written.
	// Re-submitting a URI overwrites its classification fields.
	SavePosts(ctx context.Context, posts []model.Post) (int, error)
	// ExistingURIs returns the set of URIs already stored.
	ExistingURIs(ctx context.Context) (map[string]struct{}, error)
	// LastTimestamp returns the most recent created timestamp in storage,
	// or "" when empty.
	LastTimestamp(ctx context.Context) (string, error)
}

// DedupPost is the projection of a stored post used for similarity
// comparison.
type DedupPost struct {
	URI     string
	Message string
	Created string
}

// DedupBackend is implemented by backends that can serve the deduplication
// engine.
type DedupBackend interface {
	Backend
	// PostsForDedup returns all canonical verified-job posts
	// (duplicate_of IS NULL, is_verified_job = true).
	PostsForDedup(ctx context.Context) ([]DedupPost, error)
	// MarkDuplicate points oldURI's duplicate_of at newURI. Returns false
	// if nothing was updated.
	MarkDuplicate(ctx context.Context, oldURI, newURI string) (bool, error)
}

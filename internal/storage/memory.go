package storage

import (
	"context"

	"github.com/jkaufmann/scholarsync/internal/model"
)

// MemoryStorage is an in-memory backend used by tests and dry runs. It
// implements the same upsert semantics as the real backends.
type MemoryStorage struct {
	posts map[string]model.Post
	order []string

	// SaveErr, when set, is returned by SavePosts to simulate a
	// persistence failure.
	SaveErr error
}

// NewMemoryStorage creates an empty in-memory backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{posts: make(map[string]model.Post)}
}

// SavePosts upserts posts by URI.
func (s *MemoryStorage) SavePosts(_ context.Context, posts []model.Post) (int, error) {
	if s.SaveErr != nil {
		return 0, s.SaveErr
	}
	for _, p := range posts {
		if _, ok := s.posts[p.URI]; !ok {
			s.order = append(s.order, p.URI)
		}
		s.posts[p.URI] = p
	}
	return len(posts), nil
}

// ExistingURIs returns the URIs currently stored.
func (s *MemoryStorage) ExistingURIs(_ context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(s.posts))
	for uri := range s.posts {
		out[uri] = struct{}{}
	}
	return out, nil
}

// LastTimestamp returns the max created timestamp, or "".
func (s *MemoryStorage) LastTimestamp(_ context.Context) (string, error) {
	var latest string
	for _, p := range s.posts {
		if p.CreatedAt > latest {
			latest = p.CreatedAt
		}
	}
	return latest, nil
}

// PostsForDedup returns canonical verified-job posts in insertion order.
func (s *MemoryStorage) PostsForDedup(_ context.Context) ([]DedupPost, error) {
	var out []DedupPost
	for _, uri := range s.order {
		p := s.posts[uri]
		if !p.IsVerifiedJob() || !p.IsCanonical() {
			continue
		}
		out = append(out, DedupPost{URI: p.URI, Message: p.Message, Created: p.CreatedAt})
	}
	return out, nil
}

// MarkDuplicate points oldURI's duplicate_of at newURI.
func (s *MemoryStorage) MarkDuplicate(_ context.Context, oldURI, newURI string) (bool, error) {
	p, ok := s.posts[oldURI]
	if !ok {
		return false, nil
	}
	p.DuplicateOf = model.StringPtr(newURI)
	s.posts[oldURI] = p
	return true, nil
}

// Get returns the stored post for uri, if any.
func (s *MemoryStorage) Get(uri string) (model.Post, bool) {
	p, ok := s.posts[uri]
	return p, ok
}

// All returns all stored posts in insertion order.
func (s *MemoryStorage) All() []model.Post {
	out := make([]model.Post, 0, len(s.order))
	for _, uri := range s.order {
		out = append(out, s.posts[uri])
	}
	return out
}

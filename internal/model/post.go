// Package model defines the unified post record shared by all sources,
// storage backends, and the dedup engine.
package model

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Source tags for the supported data sources.
const (
	SourceBluesky       = "bluesky"
	SourceScholarshipDB = "scholarshipdb"
)

// MaxDisciplines caps how many disciplines a single post may carry.
const MaxDisciplines = 3

var validate = validator.New()

// Post is a normalized posting from any source. URI is globally unique and
// stable across refetches; CreatedAt is an ISO-8601 string, so timestamps
// from any source compare correctly with plain string ordering.
type Post struct {
	URI        string `json:"uri" validate:"required"`
	Message    string `json:"message" validate:"required"`
	URL        string `json:"url"`
	UserHandle string `json:"user"`
	CreatedAt  string `json:"created"`
	Source     string `json:"source"`

	// Classification fields. Nil means unclassified; non-job posts
	// (VerifiedJob pointing at false) never carry the other three.
	Country       *string  `json:"country,omitempty"`
	Disciplines   []string `json:"disciplines,omitempty"`
	PositionTypes []string `json:"position_type,omitempty"`
	VerifiedJob   *bool    `json:"is_verified_job,omitempty"`

	// DuplicateOf points at the canonical post that supersedes this one.
	// Targets are always canonical themselves (no chains).
	DuplicateOf *string `json:"duplicate_of,omitempty"`
}

// Validate checks structural invariants: non-empty URI and message.
func (p *Post) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid post: %w", err)
	}
	if len(p.Disciplines) > MaxDisciplines {
		return fmt.Errorf("invalid post %s: %d disciplines exceeds limit of %d",
			p.URI, len(p.Disciplines), MaxDisciplines)
	}
	return nil
}

// IsVerifiedJob reports whether the post was positively classified as a
// genuine position announcement.
func (p *Post) IsVerifiedJob() bool {
	return p.VerifiedJob != nil && *p.VerifiedJob
}

// IsCanonical reports whether the post has not been superseded.
func (p *Post) IsCanonical() bool {
	return p.DuplicateOf == nil
}

// BoolPtr returns a pointer to b. Convenience for the tri-state VerifiedJob.
func BoolPtr(b bool) *bool { return &b }

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

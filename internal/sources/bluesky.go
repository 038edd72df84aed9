package sources

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/jkaufmann/scholarsync/internal/classify"
	"github.com/jkaufmann/scholarsync/internal/model"
)

// Bluesky allows 3000 requests per 300 seconds; half a second between
// queries keeps well under that.
const (
	blueskyRequestDelay = 500 * time.Millisecond
	blueskyMaxRetries   = 3
	blueskyRetryBackoff = 2
)

// DefaultQueries are the search terms used when none are configured.
var DefaultQueries = []string{
	"PhD position",
	"PhD call",
	"doctoral position",
	"PhD opportunity",
	"PhD opening",
	"PhD vacancy",
	"postdoc position",
	"call for postdocs",
	"join my lab",
	"call for master students",
	"research assistant position",
}

// DefaultSearchLimit is the per-query result cap.
const DefaultSearchLimit = 50

// BlueskyOptions tunes the Bluesky source.
type BlueskyOptions struct {
	Queries []string
	Limit   int
}

// BlueskySource searches Bluesky for academic position announcements and
// optionally classifies each hit through the oracle. Non-job posts are
// still returned so they can be stored for later analysis.
type BlueskySource struct {
	client     SearchClient
	queries    []string
	limit      int
	classifier *classify.Classifier // nil disables classification
	sleep      func(time.Duration)
}

// NewBlueskySource builds a Bluesky source. classifier may be nil.
func NewBlueskySource(client SearchClient, classifier *classify.Classifier, opts *BlueskyOptions) *BlueskySource {
	s := &BlueskySource{
		client:     client,
		queries:    DefaultQueries,
		limit:      DefaultSearchLimit,
		classifier: classifier,
		sleep:      time.Sleep,
	}
	if opts != nil {
		if len(opts.Queries) > 0 {
			s.queries = opts.Queries
		}
		if opts.Limit > 0 {
			s.limit = opts.Limit
		}
	}
	return s
}

func (s *BlueskySource) Name() string { return model.SourceBluesky }

// searchWithRetry runs one query, backing off on rate limits. A query that
// keeps failing is skipped rather than failing the whole fetch.
func (s *BlueskySource) searchWithRetry(ctx context.Context, query string) []FeedPost {
	for attempt := 0; attempt < blueskyMaxRetries; attempt++ {
		posts, err := s.client.SearchPosts(ctx, query, s.limit)
		if err == nil {
			return posts
		}
		if ctx.Err() != nil {
			return nil
		}

		switch {
		case isRateLimited(err):
			wait := backoffSeconds(attempt + 2)
			log.Printf("[WARNING] Rate limited. Waiting %s...", wait)
			s.sleep(wait)
		case attempt < blueskyMaxRetries-1:
			wait := backoffSeconds(attempt)
			log.Printf("[WARNING] Request failed: %v. Retrying in %s...", err, wait)
			s.sleep(wait)
		default:
			log.Printf("[ERROR] Failed after %d attempts: %v", blueskyMaxRetries, err)
			return nil
		}
	}
	return nil
}

func backoffSeconds(exp int) time.Duration {
	return time.Duration(math.Pow(blueskyRetryBackoff, float64(exp))) * time.Second
}

// Fetch searches all configured queries and returns new posts.
func (s *BlueskySource) Fetch(ctx context.Context, sinceTimestamp string, existingURIs map[string]struct{}) ([]model.Post, map[string]struct{}, error) {
	var results []model.Post
	seen := copyURISet(existingURIs)
	filtered := 0
	skippedOld := 0

	for _, query := range s.queries {
		log.Printf("[INFO] Searching Bluesky: %s", query)
		posts := s.searchWithRetry(ctx, query)
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		for _, post := range posts {
			if _, dup := seen[post.URI]; dup {
				continue
			}
			seen[post.URI] = struct{}{}

			if sinceTimestamp != "" && post.Record.CreatedAt < sinceTimestamp {
				skippedOld++
				continue
			}

			rawText := post.Record.Text
			message := rawText
			if bio := strings.TrimSpace(post.Author.Description); bio != "" {
				message = fmt.Sprintf("[Bio: %s]\n\n%s", bio, rawText)
			}

			p := model.Post{
				URI:        post.URI,
				Message:    message,
				URL:        uriToWebURL(post.URI, post.Author.Handle),
				UserHandle: post.Author.Handle,
				CreatedAt:  post.Record.CreatedAt,
				Source:     model.SourceBluesky,
			}

			if s.classifier != nil {
				// Job detection sees the raw text only: the bio confuses
				// the model. Metadata extraction gets bio and link preview
				// for discipline context.
				metadataText := message
				if embed := embedContext(post); embed != "" {
					metadataText = message + "\n\n" + embed
				}
				cls, err := s.classifier.ClassifyPost(ctx, rawText, metadataText)
				if err != nil {
					return nil, nil, fmt.Errorf("classifying post %s: %w", post.URI, err)
				}
				p.VerifiedJob = model.BoolPtr(cls.VerifiedJob)
				if cls.Metadata != nil {
					p.Disciplines = cls.Metadata.Disciplines
					p.Country = model.StringPtr(cls.Metadata.Country)
					p.PositionTypes = cls.Metadata.PositionTypes
				}
				if !cls.VerifiedJob {
					filtered++
					log.Printf("[DEBUG] Non-job post: %s...", truncate(rawText, 50))
				}
			}

			results = append(results, p)
		}

		s.sleep(blueskyRequestDelay)
	}

	if skippedOld > 0 {
		log.Printf("[INFO] Skipped %d posts older than last sync", skippedOld)
	}
	if s.classifier != nil && filtered > 0 {
		log.Printf("[INFO] Classified %d posts as non-jobs (still saved for analysis)", filtered)
	}

	return results, seen, nil
}

// embedContext renders a post's link-preview metadata. The preview title
// and description come free with the API response, no extra fetch needed.
func embedContext(post FeedPost) string {
	if post.Record.Embed == nil || post.Record.Embed.External == nil {
		return ""
	}
	ext := post.Record.Embed.External
	if ext.Title == "" && ext.Description == "" {
		return ""
	}
	return fmt.Sprintf("[Linked page - %s: %s]", ext.Title, ext.Description)
}

// uriToWebURL converts an AT URI to the public Bluesky web URL.
// at://did:plc:xxx/app.bsky.feed.post/yyy -> https://bsky.app/profile/handle/post/yyy
func uriToWebURL(uri, handle string) string {
	parts := strings.Split(uri, "/")
	postID := parts[len(parts)-1]
	return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handle, postID)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package sources

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jkaufmann/scholarsync/internal/classify"
	"github.com/jkaufmann/scholarsync/internal/fetch"
	"github.com/jkaufmann/scholarsync/internal/model"
)

const (
	scholarshipDBBaseURL      = "https://scholarshipdb.net/scholarships/Program-PhD"
	scholarshipDBRequestDelay = 2 * time.Second
	// A page with fewer listings than this is the last page of a field.
	scholarshipDBFullPage = 10
)

// DefaultMaxPages is how many listing pages are fetched per field.
const DefaultMaxPages = 2

// disciplineMapping translates ScholarshipDB field names into the
// aggregator's discipline taxonomy.
var disciplineMapping = map[string]string{
	"Computer Science":  "Computer Science",
	"Medical Sciences":  "Medicine",
	"Biology":           "Biology",
	"Chemistry":         "Chemistry & Materials Science",
	"Materials Science": "Chemistry & Materials Science",
	"Physics":           "Physics",
	"Mathematics":       "Mathematics",
	"Economics":         "Economics",
	"Engineering":       "Other",
	"Science":           "General call",
	"Psychology":        "Psychology",
	"Linguistics":       "Linguistics",
	"History":           "History",
	"Education":         "Education",
	"Arts":              "Arts & Humanities",
}

// DefaultFields are the academic fields queried when none are configured.
var DefaultFields = []string{
	"Computer Science",
	"Biology",
	"Chemistry",
	"Physics",
	"Mathematics",
	"Medical Sciences",
	"Economics",
	"Psychology",
	"Engineering",
}

// PageFetcher is the seam between the scraper and the HTTP layer.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.CachedResult, error)
}

// ScholarshipDBOptions tunes the ScholarshipDB source.
type ScholarshipDBOptions struct {
	Fields   []string
	MaxPages int
}

// ScholarshipDBSource scrapes ScholarshipDB.net, querying each academic
// field separately so listings arrive pre-classified. Listings are marked
// verified without oracle involvement.
type ScholarshipDBSource struct {
	fetcher  PageFetcher
	fields   []string
	maxPages int
	sleep    func(time.Duration)
	now      func() time.Time
}

// NewScholarshipDBSource builds a ScholarshipDB source.
func NewScholarshipDBSource(fetcher PageFetcher, opts *ScholarshipDBOptions) *ScholarshipDBSource {
	s := &ScholarshipDBSource{
		fetcher:  fetcher,
		fields:   DefaultFields,
		maxPages: DefaultMaxPages,
		sleep:    time.Sleep,
		now:      time.Now,
	}
	if opts != nil {
		if len(opts.Fields) > 0 {
			s.fields = opts.Fields
		}
		if opts.MaxPages > 0 {
			s.maxPages = opts.MaxPages
		}
	}
	return s
}

func (s *ScholarshipDBSource) Name() string { return model.SourceScholarshipDB }

var relativeDateRe = regexp.MustCompile(`(\d+)\s*(\w+)`)

// parseRelativeDate converts strings like "2 days ago" or "about 3 hours
// ago" to an ISO timestamp relative to now. Unparseable input yields now.
func parseRelativeDate(dateStr string, now time.Time) string {
	clean := strings.ToLower(strings.TrimSpace(dateStr))
	clean = strings.ReplaceAll(clean, "about", "")
	clean = strings.ReplaceAll(clean, "ago", "")
	clean = strings.TrimSpace(clean)

	m := relativeDateRe.FindStringSubmatch(clean)
	if m == nil {
		return now.UTC().Format("2006-01-02T15:04:05Z")
	}

	num, err := strconv.Atoi(m[1])
	if err != nil {
		return now.UTC().Format("2006-01-02T15:04:05Z")
	}
	unit := m[2]

	var delta time.Duration
	switch {
	case strings.Contains(unit, "minute"):
		delta = time.Duration(num) * time.Minute
	case strings.Contains(unit, "hour"):
		delta = time.Duration(num) * time.Hour
	case strings.Contains(unit, "day"):
		delta = time.Duration(num) * 24 * time.Hour
	case strings.Contains(unit, "week"):
		delta = time.Duration(num) * 7 * 24 * time.Hour
	case strings.Contains(unit, "month"):
		delta = time.Duration(num) * 30 * 24 * time.Hour
	}

	return now.Add(-delta).UTC().Format("2006-01-02T15:04:05Z")
}

// listingURI derives a stable synthetic URI from a listing link.
func listingURI(link string) string {
	sum := md5.Sum([]byte(link))
	return "scholarshipdb://" + hex.EncodeToString(sum[:])[:16]
}

// positionTypesFor infers the position type from the listing URL and title.
func positionTypesFor(href, title string) []string {
	lower := strings.ToLower(title)
	switch {
	case strings.Contains(href, "/Postdoc") || strings.Contains(lower, "postdoc"):
		return []string{"Postdoc"}
	case strings.Contains(href, "/jobs-in-") && strings.Contains(lower, "research assistant"):
		return []string{"Research Assistant"}
	default:
		return []string{classify.DefaultPositionType}
	}
}

// parseListings extracts posts from one listing page.
func (s *ScholarshipDBSource) parseListings(html, field string) ([]model.Post, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing listing page: %w", err)
	}

	discipline, ok := disciplineMapping[field]
	if !ok {
		discipline = classify.DefaultDiscipline
	}

	var posts []model.Post
	doc.Find(`h4 a[href*="/jobs-in-"], h4 a[href*="/scholarships-in-"]`).Each(func(_ int, listing *goquery.Selection) {
		title := strings.TrimSpace(listing.Text())
		href, _ := listing.Attr("href")
		link := "https://scholarshipdb.net" + href

		parent := listing.Closest("li")
		if parent.Length() == 0 {
			parent = listing.Closest("div")
		}
		if parent.Length() == 0 {
			return
		}

		country := classify.DefaultCountry
		if el := parent.Find("a.text-success").First(); el.Length() > 0 {
			country = strings.TrimSpace(el.Text())
		}

		var dateRaw string
		if el := parent.Find("span.text-muted").First(); el.Length() > 0 {
			dateRaw = strings.TrimSpace(el.Text())
		}

		posts = append(posts, model.Post{
			URI:           listingURI(link),
			Message:       title,
			URL:           link,
			UserHandle:    "scholarshipdb.net",
			CreatedAt:     parseRelativeDate(dateRaw, s.now()),
			Source:        model.SourceScholarshipDB,
			Country:       model.StringPtr(country),
			Disciplines:   []string{discipline},
			PositionTypes: positionTypesFor(href, title),
			VerifiedJob:   model.BoolPtr(true),
		})
	})

	return posts, nil
}

// fetchPage retrieves and parses one page of a field's listings.
func (s *ScholarshipDBSource) fetchPage(ctx context.Context, field string, page int) []model.Post {
	url := fmt.Sprintf("%s?page=%d&q=%s", scholarshipDBBaseURL, page,
		strings.ReplaceAll(field, " ", "%20"))

	result, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		log.Printf("[WARNING] Error fetching %s page %d: %v", field, page, err)
		return nil
	}

	posts, err := s.parseListings(result.HTML, field)
	if err != nil {
		log.Printf("[WARNING] Error parsing %s page %d: %v", field, page, err)
		return nil
	}
	return posts
}

// Fetch scrapes all configured fields and returns new listings.
func (s *ScholarshipDBSource) Fetch(ctx context.Context, sinceTimestamp string, existingURIs map[string]struct{}) ([]model.Post, map[string]struct{}, error) {
	var results []model.Post
	seen := copyURISet(existingURIs)
	skippedOld := 0

	for _, field := range s.fields {
		log.Printf("[INFO] Fetching ScholarshipDB: %s", field)

		for page := 1; page <= s.maxPages; page++ {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}

			posts := s.fetchPage(ctx, field, page)
			log.Printf("[DEBUG]   Page %d: %d positions", page, len(posts))

			for _, post := range posts {
				if _, dup := seen[post.URI]; dup {
					continue
				}
				seen[post.URI] = struct{}{}

				if sinceTimestamp != "" && post.CreatedAt < sinceTimestamp {
					skippedOld++
					continue
				}

				results = append(results, post)
			}

			if len(posts) < scholarshipDBFullPage {
				break
			}

			s.sleep(scholarshipDBRequestDelay)
		}
	}

	if skippedOld > 0 {
		log.Printf("[INFO] Skipped %d posts older than last sync", skippedOld)
	}
	log.Printf("[INFO] Found %d new positions from ScholarshipDB", len(results))

	return results, seen, nil
}

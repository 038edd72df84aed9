package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPageCacheTTL bounds how long a listing page is served from cache.
// Listing pages churn quickly, so the window is short.
const DefaultPageCacheTTL = 15 * time.Minute

const pageCacheKeyPrefix = "scholarsync:page:"

// maxFetchAttempts bounds retries of transient failures (rate limits,
// server errors, transport faults) before giving up on a page.
const maxFetchAttempts = 3

// CachedFetcher wraps URL fetching with a Redis-backed page cache so that
// scheduled runs close together do not hammer the listing sites. When the
// browser fallback is enabled, pages whose extracted text is too short are
// re-rendered headlessly before caching.
type CachedFetcher struct {
	rdb        *redis.Client // nil disables caching
	options    *Options
	cacheTTL   time.Duration
	skipCache  bool
	useBrowser bool
	verbose    bool

	render func(ctx context.Context, urlStr string) (string, error)
	sleep  func(time.Duration)
}

// CachedFetcherConfig holds configuration for the cached fetcher.
type CachedFetcherConfig struct {
	CacheTTL   time.Duration
	SkipCache  bool
	UseBrowser bool
	Verbose    bool
	Options    *Options
}

// DefaultCachedFetcherConfig returns sensible defaults.
func DefaultCachedFetcherConfig() *CachedFetcherConfig {
	return &CachedFetcherConfig{
		CacheTTL:  DefaultPageCacheTTL,
		SkipCache: false,
		Options:   DefaultOptions(),
	}
}

// NewCachedFetcher creates a cached fetcher. rdb may be nil, in which case
// every call fetches fresh.
func NewCachedFetcher(rdb *redis.Client, config *CachedFetcherConfig) *CachedFetcher {
	if config == nil {
		config = DefaultCachedFetcherConfig()
	}
	if config.Options == nil {
		config.Options = DefaultOptions()
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultPageCacheTTL
	}
	f := &CachedFetcher{
		rdb:        rdb,
		options:    config.Options,
		cacheTTL:   config.CacheTTL,
		skipCache:  config.SkipCache,
		useBrowser: config.UseBrowser,
		verbose:    config.Verbose,
		sleep:      time.Sleep,
	}
	f.render = func(ctx context.Context, urlStr string) (string, error) {
		return WithBrowser(ctx, urlStr, f.options.Timeout, f.verbose)
	}
	return f
}

// CachedResult extends Result with cache metadata.
type CachedResult struct {
	*Result
	FromCache bool
}

type cachedPage struct {
	URL        string    `json:"url"`
	HTML       string    `json:"html"`
	Text       string    `json:"text"`
	StatusCode int       `json:"status_code"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Fetch retrieves a URL, serving from cache when a fresh copy exists.
// Transient failures are retried up to maxFetchAttempts times.
func (f *CachedFetcher) Fetch(ctx context.Context, urlStr string) (*CachedResult, error) {
	if !f.skipCache && f.rdb != nil {
		raw, err := f.rdb.Get(ctx, pageCacheKeyPrefix+urlStr).Result()
		switch {
		case err == nil:
			var page cachedPage
			if jsonErr := json.Unmarshal([]byte(raw), &page); jsonErr == nil {
				if f.verbose {
					log.Printf("[DEBUG] Page cache hit: %s", urlStr)
				}
				return &CachedResult{
					Result: &Result{
						URL:        page.URL,
						HTML:       page.HTML,
						Text:       page.Text,
						StatusCode: page.StatusCode,
					},
					FromCache: true,
				}, nil
			}
			// A corrupt entry falls through to a fresh fetch.
		case !errors.Is(err, redis.Nil):
			return nil, fmt.Errorf("page cache lookup: %w", err)
		}
	}

	result, err := f.fetchWithRetry(ctx, urlStr)
	if err != nil {
		return nil, err
	}

	text, _ := ExtractMainText(result.HTML, ListingPageSelectors())
	result.Text = text

	if f.useBrowser && ShouldUseBrowser(result.Text) {
		rendered, renderErr := f.render(ctx, urlStr)
		if renderErr != nil {
			// Keep the plain result; a failed render is not fatal.
			log.Printf("[WARNING] Browser rendering failed for %s: %v", urlStr, renderErr)
		} else {
			result.HTML = rendered
			if renderedText, extractErr := ExtractMainText(rendered, ListingPageSelectors()); extractErr == nil {
				result.Text = renderedText
			}
		}
	}

	if f.rdb != nil {
		page := cachedPage{
			URL:        urlStr,
			HTML:       result.HTML,
			Text:       result.Text,
			StatusCode: result.StatusCode,
			FetchedAt:  time.Now().UTC(),
		}
		if encoded, jsonErr := json.Marshal(page); jsonErr == nil {
			// Cache write failures are not fatal; the fetch succeeded.
			_ = f.rdb.Set(ctx, pageCacheKeyPrefix+urlStr, encoded, f.cacheTTL).Err()
		}
	}

	return &CachedResult{Result: result, FromCache: false}, nil
}

// fetchWithRetry retries transient failures with a linear backoff.
func (f *CachedFetcher) fetchWithRetry(ctx context.Context, urlStr string) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			f.sleep(time.Duration(attempt) * time.Second)
		}
		result, err := URL(ctx, urlStr, f.options)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var fetchErr *Error
		if !errors.As(err, &fetchErr) || !fetchErr.Retryable {
			return nil, err
		}
		log.Printf("[WARNING] Fetch attempt %d/%d failed for %s: %v", attempt+1, maxFetchAttempts, urlStr, err)
	}
	return nil, lastErr
}

// Invalidate drops the cached copy of a URL, forcing a re-fetch.
func (f *CachedFetcher) Invalidate(ctx context.Context, urlStr string) error {
	if f.rdb == nil {
		return nil
	}
	return f.rdb.Del(ctx, pageCacheKeyPrefix+urlStr).Err()
}

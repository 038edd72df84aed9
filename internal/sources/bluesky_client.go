package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultServiceURL is the Bluesky PDS entry point.
const DefaultServiceURL = "https://bsky.social"

// FeedPost is the subset of the searchPosts response the aggregator uses.
type FeedPost struct {
	URI    string     `json:"uri"`
	Author FeedAuthor `json:"author"`
	Record FeedRecord `json:"record"`
}

// FeedAuthor is the post author's profile view.
type FeedAuthor struct {
	Handle      string `json:"handle"`
	Description string `json:"description"`
}

// FeedRecord is the post content.
type FeedRecord struct {
	Text      string     `json:"text"`
	CreatedAt string     `json:"createdAt"`
	Embed     *FeedEmbed `json:"embed"`
}

// FeedEmbed holds a post's link-preview attachment, when present.
type FeedEmbed struct {
	External *EmbedExternal `json:"external"`
}

// EmbedExternal is the preview metadata of an embedded link.
type EmbedExternal struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SearchClient is the seam between the Bluesky source and the AT protocol
// transport.
type SearchClient interface {
	SearchPosts(ctx context.Context, query string, limit int) ([]FeedPost, error)
}

// apiError is a non-2xx response from the Bluesky API.
type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("bluesky API error: status %d: %s", e.StatusCode, e.Body)
}

// isRateLimited reports whether err is a Bluesky rate-limit rejection.
func isRateLimited(err error) bool {
	apiErr, ok := err.(*apiError)
	if !ok {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests ||
		bytes.Contains([]byte(apiErr.Body), []byte("RateLimitExceeded"))
}

// ATClient talks to a Bluesky PDS over the XRPC HTTP API.
type ATClient struct {
	serviceURL string
	httpClient *http.Client
	accessJWT  string
}

// DialBluesky authenticates against the PDS and returns a ready client.
func DialBluesky(ctx context.Context, serviceURL, handle, password string) (*ATClient, error) {
	if handle == "" || password == "" {
		return nil, fmt.Errorf("bluesky credentials missing: set BLUESKY_HANDLE and BLUESKY_PASSWORD")
	}
	if serviceURL == "" {
		serviceURL = DefaultServiceURL
	}

	c := &ATClient{
		serviceURL: serviceURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	body, err := json.Marshal(map[string]string{
		"identifier": handle,
		"password":   password,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		serviceURL+"/xrpc/com.atproto.server.createSession", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bluesky login failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bluesky login failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var session struct {
		AccessJWT string `json:"accessJwt"`
	}
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("bluesky login failed: %w", err)
	}
	if session.AccessJWT == "" {
		return nil, fmt.Errorf("bluesky login failed: empty access token")
	}
	c.accessJWT = session.AccessJWT
	return c, nil
}

// SearchPosts runs one app.bsky.feed.searchPosts query.
func (c *ATClient) SearchPosts(ctx context.Context, query string, limit int) ([]FeedPost, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.serviceURL+"/xrpc/app.bsky.feed.searchPosts?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessJWT)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bluesky search failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bluesky search failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var result struct {
		Posts []FeedPost `json:"posts"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("bluesky search failed: %w", err)
	}
	return result.Posts, nil
}

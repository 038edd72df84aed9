package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCachedFetcherConfig(t *testing.T) {
	cfg := DefaultCachedFetcherConfig()
	assert.Equal(t, DefaultPageCacheTTL, cfg.CacheTTL)
	assert.False(t, cfg.SkipCache)
	assert.NotNil(t, cfg.Options)
}

func TestNewCachedFetcherFillsDefaults(t *testing.T) {
	f := NewCachedFetcher(nil, &CachedFetcherConfig{})
	assert.Equal(t, DefaultPageCacheTTL, f.cacheTTL)
	assert.NotNil(t, f.options)
	assert.NotNil(t, f.render)
}

func TestCachedFetcherWithoutRedisFetchesFresh(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body><main>PhD listings</main></body></html>"))
	}))
	defer server.Close()

	f := NewCachedFetcher(nil, nil)

	for i := 0; i < 2; i++ {
		result, err := f.Fetch(context.Background(), server.URL)
		require.NoError(t, err)
		assert.False(t, result.FromCache)
		assert.Contains(t, result.Text, "PhD listings")
	}
	assert.Equal(t, 2, hits)
}

func TestCachedFetcherRetriesTransientFailures(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body><main>PhD listings</main></body></html>"))
	}))
	defer server.Close()

	var slept []time.Duration
	f := NewCachedFetcher(nil, nil)
	f.sleep = func(d time.Duration) { slept = append(slept, d) }

	result, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "PhD listings")
	assert.Equal(t, 3, hits)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, slept)
}

func TestCachedFetcherGivesUpAfterMaxAttempts(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := NewCachedFetcher(nil, nil)
	f.sleep = func(time.Duration) {}

	_, err := f.Fetch(context.Background(), server.URL)

	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	assert.True(t, fetchErr.Retryable)
	assert.Equal(t, maxFetchAttempts, hits)
}

func TestCachedFetcherDoesNotRetryPermanentFailures(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := NewCachedFetcher(nil, nil)
	f.sleep = func(time.Duration) { t.Fatal("unexpected backoff sleep") }

	_, err := f.Fetch(context.Background(), server.URL)

	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	assert.False(t, fetchErr.Retryable)
	assert.Equal(t, 1, hits)
}

func TestCachedFetcherRendersShortPagesWithBrowser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body><main>loading...</main></body></html>"))
	}))
	defer server.Close()

	longText := strings.Repeat("PhD position in ecology. ", 40)
	var renderedURL string
	f := NewCachedFetcher(nil, &CachedFetcherConfig{UseBrowser: true})
	f.render = func(_ context.Context, urlStr string) (string, error) {
		renderedURL = urlStr
		return fmt.Sprintf("<html><body><main>%s</main></body></html>", longText), nil
	}

	result, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, server.URL, renderedURL)
	assert.Contains(t, result.Text, "PhD position in ecology.")
	assert.Contains(t, result.HTML, "PhD position in ecology.")
}

func TestCachedFetcherKeepsPlainResultWhenRenderFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body><main>loading...</main></body></html>"))
	}))
	defer server.Close()

	f := NewCachedFetcher(nil, &CachedFetcherConfig{UseBrowser: true})
	f.render = func(context.Context, string) (string, error) {
		return "", errors.New("no chrome binary")
	}

	result, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "loading...")
}

func TestCachedFetcherSkipsBrowserWhenDisabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body><main>loading...</main></body></html>"))
	}))
	defer server.Close()

	f := NewCachedFetcher(nil, nil)
	f.render = func(context.Context, string) (string, error) {
		t.Fatal("browser render should not run")
		return "", nil
	}

	result, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "loading...")
}

func TestCachedFetcherSkipsBrowserForFullPages(t *testing.T) {
	longText := strings.Repeat("PhD position in ecology. ", 40)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "<html><body><main>%s</main></body></html>", longText)
	}))
	defer server.Close()

	f := NewCachedFetcher(nil, &CachedFetcherConfig{UseBrowser: true})
	f.render = func(context.Context, string) (string, error) {
		t.Fatal("browser render should not run")
		return "", nil
	}

	result, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "PhD position in ecology.")
}

func TestInvalidateWithoutRedisIsNoOp(t *testing.T) {
	f := NewCachedFetcher(nil, nil)
	assert.NoError(t, f.Invalidate(context.Background(), "https://example.org"))
}

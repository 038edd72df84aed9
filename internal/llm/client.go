// Package llm provides the classification oracle abstraction and its
// Gemini-backed implementation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ErrUnavailable signals that the provider is unreachable after the retry
// budget for timeouts is exhausted. Callers treat this as fatal for the
// whole run, distinct from a refusal or an empty reply.
var ErrUnavailable = errors.New("llm provider unavailable")

// Client is an abstraction over LLM providers used for classification.
type Client interface {
	// Classify sends text with classification instructions and returns
	// the provider's free-form reply. Callers parse YES/NO, comma lists,
	// or JSON out of it.
	Classify(ctx context.Context, text, instructions string) (string, error)
	// Close releases any resources held by the client.
	Close() error
}

// NewClient creates a retrying classification client for the configured
// provider. Currently Gemini is the only provider.
func NewClient(ctx context.Context, config *Config, apiKey string) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	inner, err := NewGeminiClient(ctx, config, apiKey)
	if err != nil {
		return nil, err
	}
	return NewRetrying(inner, config.Retry), nil
}

// GeminiClient implements Client for Google Gemini.
type GeminiClient struct {
	client *genai.Client
	config *Config
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, config *Config, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: config,
	}, nil
}

// Classify sends a single classification request to Gemini.
func (c *GeminiClient) Classify(ctx context.Context, text, instructions string) (string, error) {
	model := c.client.GenerativeModel(c.config.Model)
	model.SetTemperature(0.1) // Low temperature for consistent output

	prompt := fmt.Sprintf("%s\n\nText: %s", instructions, text)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	return extractTextFromResponse(resp)
}

// Close releases resources held by the client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from a Gemini API response.
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}

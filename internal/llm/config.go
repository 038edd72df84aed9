package llm

import "time"

// Provider represents an LLM provider.
type Provider string

// Provider constants define supported LLM providers.
const (
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
)

// DefaultModel is the model used when none is configured. Classification is
// a simple task, so the lite tier is enough.
const DefaultModel = "gemini-2.0-flash"

// RetryPolicy describes how blocking oracle calls are retried.
// Rate-limit responses back off exponentially (doubling from BaseDelay up
// to MaxDelay) across MaxAttempts. Timeouts get the shorter TimeoutAttempts
// budget and then escalate to ErrUnavailable instead of retrying forever.
type RetryPolicy struct {
	MaxAttempts     int
	TimeoutAttempts int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	// Cooldown is a fixed pause after each successful call, honoring the
	// provider's own request rate limits.
	Cooldown time.Duration
	// PerCallTimeout bounds a single request.
	PerCallTimeout time.Duration
}

// DefaultRetryPolicy returns the production retry settings.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		TimeoutAttempts: 2,
		BaseDelay:       10 * time.Second,
		MaxDelay:        120 * time.Second,
		Cooldown:        0,
		PerCallTimeout:  60 * time.Second,
	}
}

// Backoff returns the delay before retry attempt (0-indexed), doubling from
// BaseDelay and capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Config holds the oracle configuration.
type Config struct {
	Provider Provider
	Model    string
	Retry    RetryPolicy
}

// DefaultConfig returns the default configuration (currently Gemini).
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Model:    DefaultModel,
		Retry:    DefaultRetryPolicy(),
	}
}

// WithModel returns a copy of the config using a specific model.
func (c *Config) WithModel(model string) *Config {
	out := *c
	out.Model = model
	return &out
}

package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, ProviderGemini, config.Provider)
	assert.Equal(t, DefaultModel, config.Model)
	assert.Equal(t, 5, config.Retry.MaxAttempts)
	assert.Equal(t, 2, config.Retry.TimeoutAttempts)
}

func TestWithModel(t *testing.T) {
	config := DefaultConfig()
	newConfig := config.WithModel("gemma-3-1b-it")

	// Original should be unchanged
	assert.Equal(t, DefaultModel, config.Model)
	assert.Equal(t, "gemma-3-1b-it", newConfig.Model)
}

func TestBackoff_DoublesFromBase(t *testing.T) {
	p := RetryPolicy{BaseDelay: 10 * time.Second, MaxDelay: 120 * time.Second}

	assert.Equal(t, 10*time.Second, p.Backoff(0))
	assert.Equal(t, 20*time.Second, p.Backoff(1))
	assert.Equal(t, 40*time.Second, p.Backoff(2))
	assert.Equal(t, 80*time.Second, p.Backoff(3))
}

func TestBackoff_CappedAtMaxDelay(t *testing.T) {
	p := RetryPolicy{BaseDelay: 10 * time.Second, MaxDelay: 120 * time.Second}

	assert.Equal(t, 120*time.Second, p.Backoff(4))
	assert.Equal(t, 120*time.Second, p.Backoff(10))
}

package httpclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseOpenAIHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "30")
	h.Set("x-ratelimit-remaining-requests", "99")
	h.Set("x-ratelimit-remaining-tokens", "14500")

	info := ParseOpenAIHeaders(h)
	assert.Equal(t, 30*time.Second, info.RetryAfter)
	assert.Equal(t, 99, info.RequestsRemaining)
	assert.Equal(t, 14500, info.TokensRemaining)
}

func TestParseAnthropicHeaders(t *testing.T) {
	reset := time.Now().Add(time.Minute).UTC().Format(time.RFC3339)

	h := http.Header{}
	h.Set("retry-after", "12")
	h.Set("anthropic-ratelimit-requests-reset", reset)
	h.Set("anthropic-ratelimit-requests-remaining", "5")

	info := ParseAnthropicHeaders(h)
	assert.Equal(t, 12*time.Second, info.RetryAfter)
	assert.Equal(t, 5, info.RequestsRemaining)
	assert.Greater(t, info.ResetTime, time.Now().Unix())
}

func TestParseHeaders_Empty(t *testing.T) {
	assert.Equal(t, RateLimitInfo{}, ParseOpenAIHeaders(http.Header{}))
	assert.Equal(t, RateLimitInfo{}, ParseAnthropicHeaders(http.Header{}))
}

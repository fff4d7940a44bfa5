// Package provider defines the closed set of supported AI providers, their
// capability metadata, and the selection/fallback logic used by the job
// processing pipeline.
package provider

import (
	"fmt"
	"time"
)

// Name identifies a supported AI provider. The set is closed: adding a
// provider means extending the constants below and the switch in
// NewRegistry, which the compiler checks for exhaustiveness at dispatch
// sites.
type Name string

// Supported providers.
const (
	Gemini    Name = "gemini"
	OpenAI    Name = "openai"
	Anthropic Name = "anthropic"
)

// Default is the system baseline provider used when a user has no usable
// preference and as the fallback target.
const Default = Gemini

// AllNames lists every supported provider in a stable order.
func AllNames() []Name {
	return []Name{Gemini, OpenAI, Anthropic}
}

// ParseName validates a provider name string.
func ParseName(s string) (Name, error) {
	switch Name(s) {
	case Gemini, OpenAI, Anthropic:
		return Name(s), nil
	default:
		return "", fmt.Errorf("unknown provider: %q", s)
	}
}

// Capabilities describes a provider's published limits and pricing.
type Capabilities struct {
	MaxTokens         int     `json:"max_tokens"`
	SupportsImages    bool    `json:"supports_images"`
	SupportsStreaming bool    `json:"supports_streaming"`
	RequestsPerMinute int     `json:"requests_per_minute"`
	CostPer1KTokens   float64 `json:"cost_per_1k_tokens"`
}

// SelectionError reports why a provider could not be selected for a user.
type SelectionError struct {
	Provider Name
	Reason   string
	Cause    error
}

func (e *SelectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %s unavailable: %s: %v", e.Provider, e.Reason, e.Cause)
	}
	return fmt.Sprintf("provider %s unavailable: %s", e.Provider, e.Reason)
}

func (e *SelectionError) Unwrap() error {
	return e.Cause
}

// BatchDelay converts a requests-per-minute limit and a batch width into the
// inter-batch delay needed to stay under the quota when width requests are
// issued back-to-back at the start of each chunk. A 10% safety margin is
// applied over the theoretical minimum spacing.
func BatchDelay(requestsPerMinute, batchWidth int) time.Duration {
	if requestsPerMinute <= 0 || batchWidth <= 0 {
		return 0
	}
	ms := float64(60000) * float64(batchWidth) / float64(requestsPerMinute) * 1.1
	return time.Duration(ceilMillis(ms)) * time.Millisecond
}

func ceilMillis(ms float64) int64 {
	whole := int64(ms)
	if float64(whole) < ms {
		whole++
	}
	return whole
}

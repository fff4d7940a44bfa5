package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ganainy/job-app-assistant/internal/llm"
)

// Strategy bundles everything the pipeline needs to use one provider:
// credential resolution and validation, capability metadata, the recommended
// inter-batch delay, model listing, and client construction.
type Strategy struct {
	name           Name
	credentialKey  string
	capabilities   Capabilities
	rateLimitDelay time.Duration
	validate       func(apiKey string) error
	newClient      func(ctx context.Context, apiKey string) (llm.Client, error)
}

// Name returns the provider this strategy serves.
func (s *Strategy) Name() Name {
	return s.name
}

// CredentialKey returns the credential-store key holding this provider's API key.
func (s *Strategy) CredentialKey() string {
	return s.credentialKey
}

// Capabilities returns the provider's published limits and pricing.
func (s *Strategy) Capabilities() Capabilities {
	return s.capabilities
}

// RateLimitDelay returns the provider's fixed recommended inter-batch delay.
// This is the authoritative per-provider value; BatchDelay is the general
// derivation for custom rate limits.
func (s *Strategy) RateLimitDelay() time.Duration {
	return s.rateLimitDelay
}

// ValidateCredential checks the format of an API key without calling the provider.
func (s *Strategy) ValidateCredential(apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return fmt.Errorf("credential is empty")
	}
	return s.validate(apiKey)
}

// NewClient builds a provider client for the given API key.
func (s *Strategy) NewClient(ctx context.Context, apiKey string) (llm.Client, error) {
	if err := s.ValidateCredential(apiKey); err != nil {
		return nil, &SelectionError{Provider: s.name, Reason: "invalid credential", Cause: err}
	}
	return s.newClient(ctx, apiKey)
}

// ListModels queries the provider's live model catalog. An empty slice, not
// an error, is returned when no credential is configured.
func (s *Strategy) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return []string{}, nil
	}
	client, err := s.NewClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()
	return client.ListModels(ctx)
}

func prefixValidator(provider Name, prefix string) func(string) error {
	return func(apiKey string) error {
		if !strings.HasPrefix(apiKey, prefix) {
			return fmt.Errorf("%s credentials must start with %q", provider, prefix)
		}
		return nil
	}
}

func geminiStrategy() *Strategy {
	return &Strategy{
		name:          Gemini,
		credentialKey: "gemini_api_key",
		capabilities: Capabilities{
			MaxTokens:         8192,
			SupportsImages:    true,
			SupportsStreaming: true,
			RequestsPerMinute: 15,
			CostPer1KTokens:   0.000075,
		},
		rateLimitDelay: 4500 * time.Millisecond,
		validate:       prefixValidator(Gemini, "AIza"),
		newClient: func(ctx context.Context, apiKey string) (llm.Client, error) {
			return llm.NewGeminiClient(ctx, apiKey, llm.DefaultGeminiModel)
		},
	}
}

func openAIStrategy() *Strategy {
	return &Strategy{
		name:          OpenAI,
		credentialKey: "openai_api_key",
		capabilities: Capabilities{
			MaxTokens:         16384,
			SupportsImages:    true,
			SupportsStreaming: true,
			RequestsPerMinute: 500,
			CostPer1KTokens:   0.00015,
		},
		rateLimitDelay: 500 * time.Millisecond,
		validate:       prefixValidator(OpenAI, "sk-"),
		newClient: func(_ context.Context, apiKey string) (llm.Client, error) {
			return llm.NewOpenAIClient(llm.OpenAIClientConfig{APIKey: apiKey})
		},
	}
}

func anthropicStrategy() *Strategy {
	return &Strategy{
		name:          Anthropic,
		credentialKey: "anthropic_api_key",
		capabilities: Capabilities{
			MaxTokens:         8192,
			SupportsImages:    true,
			SupportsStreaming: true,
			RequestsPerMinute: 50,
			CostPer1KTokens:   0.00025,
		},
		rateLimitDelay: 1500 * time.Millisecond,
		validate:       prefixValidator(Anthropic, "sk-ant-"),
		newClient: func(_ context.Context, apiKey string) (llm.Client, error) {
			return llm.NewAnthropicClient(llm.AnthropicClientConfig{APIKey: apiKey})
		},
	}
}

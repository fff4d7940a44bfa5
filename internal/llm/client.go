// Package llm provides provider-agnostic clients for text and structured
// generation against third-party AI APIs.
package llm

import "context"

// Client is an abstraction over LLM providers.
type Client interface {
	// GenerateText generates free-form text for a prompt.
	GenerateText(ctx context.Context, prompt string) (string, error)
	// GenerateStructured generates a JSON response for a prompt and decodes
	// it into out. Markdown-fenced JSON is tolerated; anything else fails.
	GenerateStructured(ctx context.Context, prompt string, out any) error
	// ListModels queries the provider's live model catalog.
	ListModels(ctx context.Context) ([]string, error)
	// Close releases any resources held by the client.
	Close() error
}

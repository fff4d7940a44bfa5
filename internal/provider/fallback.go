package provider

import (
	"context"
	"log"

	"github.com/ganainy/job-app-assistant/internal/llm"
)

// ExecuteWithFallback runs primary and, on any failure, runs fallback when
// one is supplied. This is a single substitution of a known-good
// implementation for a failing one, not a retry of the same call; without a
// fallback the original error propagates.
func ExecuteWithFallback[T any](
	ctx context.Context,
	primary func(ctx context.Context) (T, error),
	fallback func(ctx context.Context) (T, error),
) (T, error) {
	result, err := primary(ctx)
	if err == nil {
		return result, nil
	}
	if fallback == nil {
		return result, err
	}

	log.Printf("primary provider operation failed, using fallback: %v", err)
	return fallback(ctx)
}

// FailoverClient wraps a primary client so every call retries once against
// the fallback client when the primary fails. With a nil fallback the
// primary is returned unwrapped.
func FailoverClient(primary, fallback llm.Client) llm.Client {
	if fallback == nil {
		return primary
	}
	return &failoverClient{primary: primary, fallback: fallback}
}

type failoverClient struct {
	primary  llm.Client
	fallback llm.Client
}

func (c *failoverClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	return ExecuteWithFallback(ctx,
		func(ctx context.Context) (string, error) { return c.primary.GenerateText(ctx, prompt) },
		func(ctx context.Context) (string, error) { return c.fallback.GenerateText(ctx, prompt) },
	)
}

func (c *failoverClient) GenerateStructured(ctx context.Context, prompt string, out any) error {
	_, err := ExecuteWithFallback(ctx,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.primary.GenerateStructured(ctx, prompt, out)
		},
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.fallback.GenerateStructured(ctx, prompt, out)
		},
	)
	return err
}

func (c *failoverClient) ListModels(ctx context.Context) ([]string, error) {
	return c.primary.ListModels(ctx)
}

func (c *failoverClient) Close() error {
	err := c.primary.Close()
	if ferr := c.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultAnthropicModel is the model used when none is configured.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

const anthropicVersion = "2023-06-01"

// AnthropicClientConfig configures an AnthropicClient.
type AnthropicClientConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// AnthropicClient implements Client against the Anthropic messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(config AnthropicClientConfig) (*AnthropicClient, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.anthropic.com/v1"
	}
	if strings.TrimSpace(config.Model) == "" {
		config.Model = DefaultAnthropicModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 2
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &AnthropicClient{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		model:      config.Model,
		maxTokens:  config.MaxTokens,
		timeout:    config.Timeout,
		maxRetries: config.MaxRetries,
		httpClient: config.HTTPClient,
	}, nil
}

// GenerateText generates free-form text for a prompt.
func (c *AnthropicClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, prompt)
}

// GenerateStructured generates a JSON response and decodes it into out.
// Anthropic has no JSON response mode; the prompt is expected to request
// JSON and the fence-tolerant decoder handles the rest.
func (c *AnthropicClient) GenerateStructured(ctx context.Context, prompt string, out any) error {
	text, err := c.generate(ctx, prompt)
	if err != nil {
		return err
	}
	return DecodeJSON(text, out)
}

func (c *AnthropicClient) generate(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model":       c.model,
		"max_tokens":  c.maxTokens,
		"temperature": 0.1,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal anthropic payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		text, callErr := c.callMessages(ctx, encoded)
		if callErr == nil {
			return text, nil
		}
		lastErr = callErr

		if !isRetryable(callErr) || attempt == c.maxRetries {
			break
		}

		backoff := time.Duration(350*(attempt+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}

	return "", lastErr
}

func (c *AnthropicClient) callMessages(ctx context.Context, payload []byte) (string, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/messages", payload)
	if err != nil {
		return "", err
	}

	var raw struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", &ParseError{Message: "decode anthropic response", Cause: err}
	}

	var fragments []string
	for _, block := range raw.Content {
		if block.Type != "text" || strings.TrimSpace(block.Text) == "" {
			continue
		}
		fragments = append(fragments, block.Text)
	}
	if len(fragments) == 0 {
		return "", &ParseError{Message: "anthropic response without text output"}
	}
	return strings.Join(fragments, "\n"), nil
}

// ListModels queries the live Anthropic model catalog.
func (c *AnthropicClient) ListModels(ctx context.Context) ([]string, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ParseError{Message: "decode anthropic models", Cause: err}
	}

	models := make([]string, 0, len(raw.Data))
	for _, m := range raw.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

// Close is a no-op; the client holds no persistent resources.
func (c *AnthropicClient) Close() error {
	return nil
}

func (c *AnthropicClient) doRequest(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(timeoutCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return nil, &APICallError{Provider: "anthropic", Message: "timeout", Cause: err}
		}
		return nil, &APICallError{Provider: "anthropic", Message: "transport error", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APICallError{Provider: "anthropic", Message: "read body", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			Provider:   "anthropic",
			StatusCode: resp.StatusCode,
			Message:    truncate(strings.TrimSpace(string(body)), 700),
		}
	}

	return body, nil
}

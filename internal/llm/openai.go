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

// DefaultOpenAIModel is the model used when none is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIClientConfig configures an OpenAIClient.
type OpenAIClientConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// OpenAIClient implements Client against the OpenAI chat completions API.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(config OpenAIClientConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(config.Model) == "" {
		config.Model = DefaultOpenAIModel
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

	return &OpenAIClient{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		model:      config.Model,
		timeout:    config.Timeout,
		maxRetries: config.MaxRetries,
		httpClient: config.HTTPClient,
	}, nil
}

// GenerateText generates free-form text for a prompt.
func (c *OpenAIClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, prompt, false)
}

// GenerateStructured generates a JSON response and decodes it into out.
func (c *OpenAIClient) GenerateStructured(ctx context.Context, prompt string, out any) error {
	text, err := c.generate(ctx, prompt, true)
	if err != nil {
		return err
	}
	return DecodeJSON(text, out)
}

func (c *OpenAIClient) generate(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	payload := map[string]any{
		"model":       c.model,
		"temperature": 0.1,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	if jsonMode {
		payload["response_format"] = map[string]string{"type": "json_object"}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal openai payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		text, callErr := c.callChatCompletions(ctx, encoded)
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

func (c *OpenAIClient) callChatCompletions(ctx context.Context, payload []byte) (string, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/chat/completions", payload)
	if err != nil {
		return "", err
	}

	var raw struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", &ParseError{Message: "decode openai response", Cause: err}
	}
	if len(raw.Choices) == 0 || strings.TrimSpace(raw.Choices[0].Message.Content) == "" {
		return "", &ParseError{Message: "openai response without text output"}
	}
	return raw.Choices[0].Message.Content, nil
}

// ListModels queries the live OpenAI model catalog.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]string, error) {
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
		return nil, &ParseError{Message: "decode openai models", Cause: err}
	}

	models := make([]string, 0, len(raw.Data))
	for _, m := range raw.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

// Close is a no-op; the client holds no persistent resources.
func (c *OpenAIClient) Close() error {
	return nil
}

func (c *OpenAIClient) doRequest(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(timeoutCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create openai request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return nil, &APICallError{Provider: "openai", Message: "timeout", Cause: err}
		}
		return nil, &APICallError{Provider: "openai", Message: "transport error", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APICallError{Provider: "openai", Message: "read body", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			Provider:   "openai",
			StatusCode: resp.StatusCode,
			Message:    truncate(strings.TrimSpace(string(body)), 700),
		}
	}

	return body, nil
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// isRetryable reports whether a provider call is worth retrying: quota
// rejections, 5xx responses, and transport timeouts.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "timeout") || strings.Contains(message, "tempor")
}

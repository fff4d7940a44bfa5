package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Actor run protocol constants. Details fetches are bounded by a fixed
// number of polling iterations rather than one long-lived request, which
// yields an effective per-item timeout.
const (
	DefaultBaseURL         = "https://api.apify.com/v2"
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxPollAttempts = 30
	DefaultTimeout         = 30 * time.Second
)

// Actor identifiers for the two sources.
const (
	listActor    = "job-search"
	detailsActor = "job-details"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL         string
	Timeout         time.Duration
	PollInterval    time.Duration
	MaxPollAttempts int
	// PollRate throttles status polling across concurrent fetches.
	PollRate   rate.Limit
	HTTPClient *http.Client
}

// Client implements ListSource and DetailsSource over an actor-style
// scraping API: submit a run, poll its status, fetch its dataset.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	pollInterval    time.Duration
	maxPollAttempts int
	limiter         *rate.Limiter
}

// NewClient creates an actor API client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = DefaultMaxPollAttempts
	}
	if cfg.PollRate <= 0 {
		cfg.PollRate = rate.Limit(5)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:         strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:      cfg.HTTPClient,
		pollInterval:    cfg.PollInterval,
		maxPollAttempts: cfg.MaxPollAttempts,
		limiter:         rate.NewLimiter(cfg.PollRate, 1),
	}
}

// ListJobs runs the job-search actor and returns its lightweight hits.
// Authentication and parameter failures raise; there is no partial success
// at the list level.
func (c *Client) ListJobs(ctx context.Context, credential string, opts Options) ([]map[string]any, error) {
	input := map[string]any{
		"keywords":   opts.Keywords,
		"location":   opts.Location,
		"maxResults": opts.MaxJobs,
	}
	if len(opts.JobTypes) > 0 {
		input["jobTypes"] = opts.JobTypes
	}
	if len(opts.ExperienceLevels) > 0 {
		input["experienceLevels"] = opts.ExperienceLevels
	}
	if opts.DatePosted != "" {
		input["datePosted"] = opts.DatePosted
	}

	items, err := c.runActor(ctx, credential, listActor, input)
	if err != nil {
		return nil, fmt.Errorf("job list source failed: %w", err)
	}
	return items, nil
}

// FetchDetails runs the job-details actor for one posting URL. Timeouts and
// per-item actor failures yield (nil, nil); only transport-level errors are
// returned, and the caller treats those as soft too.
func (c *Client) FetchDetails(ctx context.Context, jobURL, credential string) (map[string]any, error) {
	items, err := c.runActor(ctx, credential, detailsActor, map[string]any{"url": jobURL})
	if err != nil {
		if errors.Is(err, ErrRunTimeout) {
			log.Printf("details fetch timed out for %s", jobURL)
			return nil, nil
		}
		var actorErr *Error
		if errors.As(err, &actorErr) && actorErr.Message == "run failed" {
			log.Printf("details fetch failed for %s: %v", jobURL, err)
			return nil, nil
		}
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// runActor drives the full submit -> poll -> fetch cycle for one actor run.
func (c *Client) runActor(ctx context.Context, credential, actor string, input map[string]any) ([]map[string]any, error) {
	runID, err := c.submitRun(ctx, credential, actor, input)
	if err != nil {
		return nil, err
	}

	datasetID, err := c.awaitRun(ctx, credential, runID)
	if err != nil {
		return nil, err
	}

	return c.fetchDataset(ctx, credential, datasetID)
}

func (c *Client) submitRun(ctx context.Context, credential, actor string, input map[string]any) (string, error) {
	endpoint := fmt.Sprintf("%s/acts/%s/runs?token=%s", c.baseURL, actor, url.QueryEscape(credential))

	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal actor input: %w", err)
	}

	body, status, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", &Error{URL: endpoint, Message: "authentication rejected"}
	}
	if status < 200 || status > 299 {
		return "", &Error{URL: endpoint, Message: fmt.Sprintf("submit returned status %d", status)}
	}

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Data.ID == "" {
		return "", &Error{URL: endpoint, Message: "malformed run response", Cause: err}
	}
	return resp.Data.ID, nil
}

// awaitRun polls run status until it settles or the attempt budget runs out.
func (c *Client) awaitRun(ctx context.Context, credential, runID string) (string, error) {
	endpoint := fmt.Sprintf("%s/actor-runs/%s?token=%s", c.baseURL, runID, url.QueryEscape(credential))

	for attempt := 0; attempt < c.maxPollAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		body, status, err := c.do(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return "", err
		}
		if status < 200 || status > 299 {
			return "", &Error{URL: endpoint, Message: fmt.Sprintf("status poll returned %d", status)}
		}

		var resp struct {
			Data struct {
				Status           string `json:"status"`
				DefaultDatasetID string `json:"defaultDatasetId"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", &Error{URL: endpoint, Message: "malformed status response", Cause: err}
		}

		switch resp.Data.Status {
		case "SUCCEEDED":
			return resp.Data.DefaultDatasetID, nil
		case "FAILED", "ABORTED", "TIMED-OUT":
			return "", &Error{URL: endpoint, Message: "run failed"}
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	return "", fmt.Errorf("%w after %d polls", ErrRunTimeout, c.maxPollAttempts)
}

func (c *Client) fetchDataset(ctx context.Context, credential, datasetID string) ([]map[string]any, error) {
	endpoint := fmt.Sprintf("%s/datasets/%s/items?token=%s", c.baseURL, datasetID, url.QueryEscape(credential))

	body, status, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &Error{URL: endpoint, Message: fmt.Sprintf("dataset fetch returned %d", status)}
	}

	var items []map[string]any
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &Error{URL: endpoint, Message: "malformed dataset response", Cause: err}
	}
	return items, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, &Error{URL: endpoint, Message: "failed to create request", Cause: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &Error{URL: endpoint, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &Error{URL: endpoint, Message: "failed to read response body", Cause: err}
	}
	return body, resp.StatusCode, nil
}

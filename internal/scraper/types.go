// Package scraper acquires raw job postings from external scraping actors.
// The list and details sources follow an asynchronous submit/poll/fetch
// protocol and return loosely-schemaed records that are normalized here.
package scraper

import "time"

// CredentialKey is the per-user credential store key for the scraping
// service token.
const CredentialKey = "apify_api_key"

// RawJobData is one acquired job posting. It is transient: produced by
// acquisition, consumed by the analysis stage, never persisted on its own.
type RawJobData struct {
	ExternalID  string         `json:"external_id"`
	Title       string         `json:"title"`
	Company     string         `json:"company"`
	URL         string         `json:"url"`
	Description string         `json:"description"`
	PostedAt    *time.Time     `json:"posted_at,omitempty"`
	Structured  map[string]any `json:"structured,omitempty"` // opaque scraper-provided fields
}

// Options are the search parameters for one acquisition. At least one of
// Keywords/Location is required; ValidateOptions enforces the rest.
type Options struct {
	Keywords         string   `json:"keywords" validate:"required_without=Location"`
	Location         string   `json:"location" validate:"required_without=Keywords"`
	JobTypes         []string `json:"job_types,omitempty"`
	ExperienceLevels []string `json:"experience_levels,omitempty"`
	DatePosted       string   `json:"date_posted,omitempty"`
	MaxJobs          int      `json:"max_jobs" validate:"gte=20,lte=1000"`
	AvoidDuplicates  bool     `json:"avoid_duplicates,omitempty"`
}

package db

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the per-job processing state. The pipeline only ever moves a
// job forward: pending -> analyzed -> relevant/not_relevant, or to error.
type JobStatus string

// Job status constants.
const (
	JobStatusPending     JobStatus = "pending"
	JobStatusAnalyzed    JobStatus = "analyzed"
	JobStatusRelevant    JobStatus = "relevant"
	JobStatusNotRelevant JobStatus = "not_relevant"
	JobStatusError       JobStatus = "error"
)

// Recommendation is the cached apply-or-skip verdict for a job.
type Recommendation struct {
	Score       int       `json:"score"`
	ShouldApply bool      `json:"should_apply"`
	Reason      string    `json:"reason"`
	CachedAt    time.Time `json:"cached_at"`
}

// JobRecord is one persisted job posting for a user. The
// (user_id, external_job_id) pair is UNIQUE; that constraint, not the
// read-side dedup pre-filter, is the integrity mechanism against concurrent
// runs for the same user.
type JobRecord struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	ExternalJobID  string          `json:"external_job_id"`
	Title          string          `json:"title"`
	Company        string          `json:"company"`
	URL            string          `json:"url"`
	Description    string          `json:"description"`
	Status         JobStatus       `json:"status"`
	StatusReason   string          `json:"status_reason,omitempty"`
	ExtractedData  map[string]any  `json:"extracted_data,omitempty"`
	CompanyInsight map[string]any  `json:"company_insight,omitempty"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
	PostedAt       *time.Time      `json:"posted_at,omitempty"`
	DiscoveredAt   time.Time       `json:"discovered_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
}

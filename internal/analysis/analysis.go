// Package analysis runs the merged per-job analysis: one AI call that
// extracts job facts, researches the company, and scores relevance
// against the user's structured resume.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ganainy/job-app-assistant/internal/db"
	"github.com/ganainy/job-app-assistant/internal/llm"
	"github.com/ganainy/job-app-assistant/internal/prompts"
	"github.com/ganainy/job-app-assistant/internal/resume"
	"github.com/ganainy/job-app-assistant/internal/scraper"
)

// MinDescriptionLength is the shortest description text worth analyzing.
// Anything below it is almost always a scrape failure, not a real posting.
const MinDescriptionLength = 100

// ErrShortDescription marks a job whose description was missing or too
// short to analyze.
var ErrShortDescription = fmt.Errorf("analysis: job description missing or too short")

// Store is the subset of job persistence the stage needs.
type Store interface {
	CreateJob(ctx context.Context, job *db.JobRecord) error
	UpdateJobAnalysis(ctx context.Context, jobID uuid.UUID, extracted, insight map[string]any) error
	UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status db.JobStatus, reason string) error
	SetJobRecommendation(ctx context.Context, jobID uuid.UUID, rec db.Recommendation) error
}

// Outcome is the per-job result folded into the run's stats.
type Outcome struct {
	JobID  uuid.UUID
	Status db.JobStatus
	Score  int
}

// Stage analyzes acquired jobs one at a time.
type Stage struct {
	store Store
	now   func() time.Time
}

func NewStage(store Store) *Stage {
	return &Stage{store: store, now: time.Now}
}

type mergedResponse struct {
	ExtractedData  map[string]any `json:"extracted_data"`
	CompanyInsight map[string]any `json:"company_insight"`
	RelevanceScore int            `json:"relevance_score"`
}

// ProcessJob persists a pending record for the job, runs the merged
// analysis, and classifies the job. A returned error means the job ended
// in an error state, never that the batch should stop.
func (s *Stage) ProcessJob(ctx context.Context, client llm.Client, userID uuid.UUID, raw scraper.RawJobData, structured *resume.StructuredResume, threshold int) (Outcome, error) {
	record := &db.JobRecord{
		UserID:        userID,
		ExternalJobID: raw.ExternalID,
		Title:         raw.Title,
		Company:       raw.Company,
		URL:           raw.URL,
		Description:   raw.Description,
		Status:        db.JobStatusPending,
		PostedAt:      raw.PostedAt,
	}
	if err := s.store.CreateJob(ctx, record); err != nil {
		return Outcome{}, fmt.Errorf("creating job record for %s: %w", raw.ExternalID, err)
	}
	out := Outcome{JobID: record.ID}

	if len(strings.TrimSpace(raw.Description)) < MinDescriptionLength {
		out.Status = db.JobStatusError
		if err := s.store.UpdateJobStatus(ctx, record.ID, db.JobStatusError, "description missing or too short to analyze"); err != nil {
			return out, fmt.Errorf("marking job %s failed: %w", record.ID, err)
		}
		return out, ErrShortDescription
	}

	var resp mergedResponse
	if err := client.GenerateStructured(ctx, mergedPrompt(raw, structured), &resp); err != nil {
		out.Status = db.JobStatusError
		if serr := s.store.UpdateJobStatus(ctx, record.ID, db.JobStatusError, "analysis failed: "+err.Error()); serr != nil {
			return out, fmt.Errorf("marking job %s failed: %w", record.ID, serr)
		}
		return out, fmt.Errorf("analyzing job %s: %w", raw.ExternalID, err)
	}
	score := clampScore(resp.RelevanceScore)
	out.Score = score

	if err := s.store.UpdateJobAnalysis(ctx, record.ID, resp.ExtractedData, resp.CompanyInsight); err != nil {
		out.Status = db.JobStatusError
		return out, fmt.Errorf("saving analysis for job %s: %w", record.ID, err)
	}

	rec := BandScore(score, threshold)
	if score < threshold {
		out.Status = db.JobStatusNotRelevant
		if err := s.store.UpdateJobStatus(ctx, record.ID, db.JobStatusNotRelevant, rec.Reason); err != nil {
			return out, fmt.Errorf("classifying job %s: %w", record.ID, err)
		}
		return out, nil
	}

	out.Status = db.JobStatusRelevant
	if err := s.store.UpdateJobStatus(ctx, record.ID, db.JobStatusRelevant, rec.Reason); err != nil {
		return out, fmt.Errorf("classifying job %s: %w", record.ID, err)
	}
	if err := s.store.SetJobRecommendation(ctx, record.ID, db.Recommendation{
		Score:       rec.Score,
		ShouldApply: rec.ShouldApply,
		Reason:      rec.Reason,
		CachedAt:    s.now(),
	}); err != nil {
		return out, fmt.Errorf("saving recommendation for job %s: %w", record.ID, err)
	}
	return out, nil
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func mergedPrompt(raw scraper.RawJobData, structured *resume.StructuredResume) string {
	var b strings.Builder
	b.WriteString(prompts.MustGet("analysis.json", "merged-header"))
	if len(raw.Structured) > 0 {
		if hints, err := json.Marshal(raw.Structured); err == nil {
			b.WriteString("Fields already extracted by the job source, reuse them instead of re-deriving:\n")
			b.Write(hints)
			b.WriteString("\n\n")
		}
	}
	if structured != nil {
		if profile, err := json.Marshal(structured); err == nil {
			b.WriteString("Candidate resume (structured):\n")
			b.Write(profile)
			b.WriteString("\n\n")
		}
	}
	fmt.Fprintf(&b, "Job posting:\nTitle: %s\nCompany: %s\n\n%s", raw.Title, raw.Company, raw.Description)
	return b.String()
}

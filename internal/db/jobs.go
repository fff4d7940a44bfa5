package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateJob is returned when a create hits the (user_id,
// external_job_id) uniqueness constraint: another run already persisted this
// posting for the user.
var ErrDuplicateJob = fmt.Errorf("job already exists for user")

// FindJobByExternalID retrieves a user's job record by its external id, or
// (nil, nil) when absent.
func (db *DB) FindJobByExternalID(ctx context.Context, userID uuid.UUID, externalJobID string) (*JobRecord, error) {
	var job JobRecord
	var extractedJSON, insightJSON, recommendationJSON []byte

	err := db.pool.QueryRow(ctx,
		`SELECT id, user_id, external_job_id, title, company, url, description,
		        status, COALESCE(status_reason, ''), extracted_data, company_insight,
		        recommendation, posted_at, discovered_at, processed_at
		 FROM job_records WHERE user_id = $1 AND external_job_id = $2`,
		userID, externalJobID,
	).Scan(&job.ID, &job.UserID, &job.ExternalJobID, &job.Title, &job.Company, &job.URL,
		&job.Description, &job.Status, &job.StatusReason, &extractedJSON, &insightJSON,
		&recommendationJSON, &job.PostedAt, &job.DiscoveredAt, &job.ProcessedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find job: %w", err)
	}

	if extractedJSON != nil {
		_ = json.Unmarshal(extractedJSON, &job.ExtractedData)
	}
	if insightJSON != nil {
		_ = json.Unmarshal(insightJSON, &job.CompanyInsight)
	}
	if recommendationJSON != nil {
		_ = json.Unmarshal(recommendationJSON, &job.Recommendation)
	}

	return &job, nil
}

// CreateJob inserts a new pending job record and fills in its generated id.
// A concurrent run that already inserted the same posting surfaces as
// ErrDuplicateJob.
func (db *DB) CreateJob(ctx context.Context, job *JobRecord) error {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO job_records
		   (user_id, external_job_id, title, company, url, description, status, posted_at, discovered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 RETURNING id, discovered_at`,
		job.UserID, job.ExternalJobID, job.Title, job.Company, job.URL,
		job.Description, job.Status, job.PostedAt,
	).Scan(&job.ID, &job.DiscoveredAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateJob
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// UpdateJobAnalysis records the merged analysis output and marks the job
// analyzed.
func (db *DB) UpdateJobAnalysis(ctx context.Context, jobID uuid.UUID, extracted, insight map[string]any) error {
	extractedJSON, err := json.Marshal(extracted)
	if err != nil {
		return fmt.Errorf("failed to marshal extracted data: %w", err)
	}
	insightJSON, err := json.Marshal(insight)
	if err != nil {
		return fmt.Errorf("failed to marshal company insight: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`UPDATE job_records
		 SET status = $1, extracted_data = $2, company_insight = $3, processed_at = NOW()
		 WHERE id = $4`,
		JobStatusAnalyzed, extractedJSON, insightJSON, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job analysis: %w", err)
	}
	return nil
}

// UpdateJobStatus transitions a job's processing status with an optional
// human-readable reason.
func (db *DB) UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status JobStatus, reason string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE job_records SET status = $1, status_reason = $2, processed_at = NOW() WHERE id = $3`,
		status, reason, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

// SetJobRecommendation stores the cached apply recommendation for a job.
func (db *DB) SetJobRecommendation(ctx context.Context, jobID uuid.UUID, rec Recommendation) error {
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendation: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`UPDATE job_records SET recommendation = $1 WHERE id = $2`,
		recJSON, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to set recommendation: %w", err)
	}
	return nil
}

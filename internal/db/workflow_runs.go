package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrRunFinished is returned when a mutation targets a run that has already
// reached a terminal status. Post-terminal writes are rejected at the store
// level so a slow executor can never resurrect a finished run.
var ErrRunFinished = fmt.Errorf("workflow run already finished")

// CreateWorkflowRun inserts a new run record and fills in its generated id.
func (db *DB) CreateWorkflowRun(ctx context.Context, run *WorkflowRun) error {
	stepsJSON, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	statsJSON, _ := json.Marshal(run.Stats)
	progressJSON, _ := json.Marshal(run.Progress)

	err = db.pool.QueryRow(ctx,
		`INSERT INTO workflow_runs (user_id, status, progress, steps, stats, is_manual, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		run.UserID, run.Status, progressJSON, stepsJSON, statsJSON, run.IsManual, run.StartedAt,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("failed to create workflow run: %w", err)
	}
	return nil
}

// GetWorkflowRun retrieves a run by id, or (nil, nil) when absent.
func (db *DB) GetWorkflowRun(ctx context.Context, runID uuid.UUID) (*WorkflowRun, error) {
	var run WorkflowRun
	var progressJSON, stepsJSON, statsJSON []byte

	err := db.pool.QueryRow(ctx,
		`SELECT id, user_id, status, progress, steps, stats, error_message, is_manual, started_at, completed_at
		 FROM workflow_runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.UserID, &run.Status, &progressJSON, &stepsJSON, &statsJSON,
		&run.ErrorMessage, &run.IsManual, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get workflow run: %w", err)
	}

	_ = json.Unmarshal(progressJSON, &run.Progress)
	_ = json.Unmarshal(stepsJSON, &run.Steps)
	_ = json.Unmarshal(statsJSON, &run.Stats)

	return &run, nil
}

// GetRunStatus reads just the status column. The executor polls this before
// each step and between chunks to observe external cancellation cheaply.
func (db *DB) GetRunStatus(ctx context.Context, runID uuid.UUID) (RunStatus, error) {
	var status RunStatus
	err := db.pool.QueryRow(ctx,
		`SELECT status FROM workflow_runs WHERE id = $1`, runID,
	).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", fmt.Errorf("workflow run not found: %s", runID)
		}
		return "", fmt.Errorf("failed to get run status: %w", err)
	}
	return status, nil
}

// SaveRunState persists the run's progress, steps, and stats. It only
// applies while the run is still running; a post-terminal save is rejected.
func (db *DB) SaveRunState(ctx context.Context, run *WorkflowRun) error {
	progressJSON, _ := json.Marshal(run.Progress)
	stepsJSON, _ := json.Marshal(run.Steps)
	statsJSON, _ := json.Marshal(run.Stats)

	tag, err := db.pool.Exec(ctx,
		`UPDATE workflow_runs SET progress = $1, steps = $2, stats = $3
		 WHERE id = $4 AND status = 'running'`,
		progressJSON, stepsJSON, statsJSON, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunFinished
	}
	return nil
}

// FinishRun stamps a terminal status, the final step/stat state, and
// completed_at. completed_at is written exactly once: a second finish
// attempt finds it set and is rejected.
func (db *DB) FinishRun(ctx context.Context, run *WorkflowRun) error {
	if !run.Status.IsTerminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", run.Status)
	}

	progressJSON, _ := json.Marshal(run.Progress)
	stepsJSON, _ := json.Marshal(run.Steps)
	statsJSON, _ := json.Marshal(run.Stats)

	tag, err := db.pool.Exec(ctx,
		`UPDATE workflow_runs
		 SET status = $1, progress = $2, steps = $3, stats = $4, error_message = $5, completed_at = NOW()
		 WHERE id = $6 AND completed_at IS NULL`,
		run.Status, progressJSON, stepsJSON, statsJSON, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunFinished
	}
	return nil
}

// CancelRun requests cooperative cancellation: the status flips to cancelled
// and the executor observes it at the next step or chunk boundary, stamping
// completed_at itself. Cancelling an already-terminal run is rejected.
func (db *DB) CancelRun(ctx context.Context, runID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE workflow_runs SET status = 'cancelled'
		 WHERE id = $1 AND status = 'running'`,
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunFinished
	}
	return nil
}

// ListWorkflowRuns retrieves a user's recent runs, newest first.
func (db *DB) ListWorkflowRuns(ctx context.Context, userID uuid.UUID, limit int) ([]WorkflowRun, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, status, progress, steps, stats, error_message, is_manual, started_at, completed_at
		 FROM workflow_runs WHERE user_id = $1
		 ORDER BY started_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow runs: %w", err)
	}
	defer rows.Close()

	var runs []WorkflowRun
	for rows.Next() {
		var run WorkflowRun
		var progressJSON, stepsJSON, statsJSON []byte
		if err := rows.Scan(&run.ID, &run.UserID, &run.Status, &progressJSON, &stepsJSON, &statsJSON,
			&run.ErrorMessage, &run.IsManual, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow run: %w", err)
		}
		_ = json.Unmarshal(progressJSON, &run.Progress)
		_ = json.Unmarshal(stepsJSON, &run.Steps)
		_ = json.Unmarshal(statsJSON, &run.Stats)
		runs = append(runs, run)
	}
	return runs, nil
}

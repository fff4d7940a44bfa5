package db

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a workflow run. Terminal statuses are
// one-way: a completed, failed, or cancelled run is never resumed.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// StepStatus is the state of one named step within a run.
type StepStatus string

// Step status constants.
const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// The six fixed workflow steps, in execution order.
const (
	StepInitialize      = "Initialize"
	StepRetrieveJobs    = "Retrieve Jobs"
	StepDeduplicate     = "Deduplicate"
	StepStructureResume = "Structure Resume"
	StepProcessJobs     = "Process Jobs"
	StepComplete        = "Complete"
)

// StepNames lists the fixed step sequence. TotalSteps is its length.
var StepNames = []string{
	StepInitialize,
	StepRetrieveJobs,
	StepDeduplicate,
	StepStructureResume,
	StepProcessJobs,
	StepComplete,
}

// TotalSteps is the fixed number of workflow steps.
const TotalSteps = 6

// RunProgress summarizes how far a run has advanced.
type RunProgress struct {
	CurrentStep      string `json:"current_step"`
	CurrentStepIndex int    `json:"current_step_index"`
	TotalSteps       int    `json:"total_steps"`
	Percentage       int    `json:"percentage"`
}

// ProgressFor computes the progress summary for a step index.
func ProgressFor(stepIndex int) RunProgress {
	return RunProgress{
		CurrentStep:      StepNames[stepIndex],
		CurrentStepIndex: stepIndex,
		TotalSteps:       TotalSteps,
		Percentage:       int(math.Round(float64(stepIndex) / float64(TotalSteps) * 100)),
	}
}

// RunStep is one named step's record within a run.
type RunStep struct {
	Name        string     `json:"name"`
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Message     string     `json:"message,omitempty"`
	Count       int        `json:"count,omitempty"`
	Total       int        `json:"total,omitempty"`
}

// RunStats are the aggregate counters for a run. They are written only by
// the owning pipeline execution and never decrease within a run.
type RunStats struct {
	JobsFound   int `json:"jobs_found"`
	NewJobs     int `json:"new_jobs"`
	Duplicates  int `json:"duplicates"`
	Analyzed    int `json:"analyzed"`
	Relevant    int `json:"relevant"`
	NotRelevant int `json:"not_relevant"`
	Generated   int `json:"generated"`
	Errors      int `json:"errors"`
}

// WorkflowRun is one triggered batch execution. The asynchronous executor is
// the sole writer of a run's row for its lifetime; polling clients treat the
// document as read-only.
type WorkflowRun struct {
	ID           uuid.UUID   `json:"id"`
	UserID       uuid.UUID   `json:"user_id"`
	Status       RunStatus   `json:"status"`
	Progress     RunProgress `json:"progress"`
	Steps        []RunStep   `json:"steps"`
	Stats        RunStats    `json:"stats"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	IsManual     bool        `json:"is_manual"`
	StartedAt    time.Time   `json:"started_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// NewWorkflowRun builds the initial run document: status running, the
// Initialize step pre-marked running, all other steps pending.
func NewWorkflowRun(userID uuid.UUID, isManual bool) *WorkflowRun {
	now := time.Now().UTC()
	steps := make([]RunStep, TotalSteps)
	for i, name := range StepNames {
		steps[i] = RunStep{Name: name, Status: StepStatusPending}
	}
	steps[0].Status = StepStatusRunning
	steps[0].StartedAt = &now

	return &WorkflowRun{
		UserID:    userID,
		Status:    RunStatusRunning,
		Progress:  ProgressFor(0),
		Steps:     steps,
		Stats:     RunStats{},
		IsManual:  isManual,
		StartedAt: now,
	}
}

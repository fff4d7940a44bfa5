// Package workflow drives the six-step job processing pipeline: initialize,
// retrieve jobs, deduplicate, structure resume, process jobs, complete. A
// run is created synchronously and executed asynchronously; the executor is
// the sole writer of the run document for its lifetime.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ganainy/job-app-assistant/internal/analysis"
	"github.com/ganainy/job-app-assistant/internal/batch"
	"github.com/ganainy/job-app-assistant/internal/db"
	"github.com/ganainy/job-app-assistant/internal/llm"
	"github.com/ganainy/job-app-assistant/internal/provider"
	"github.com/ganainy/job-app-assistant/internal/resume"
	"github.com/ganainy/job-app-assistant/internal/scraper"
)

var errCancelled = errors.New("workflow: run cancelled")

// RunStore persists workflow run documents.
type RunStore interface {
	CreateWorkflowRun(ctx context.Context, run *db.WorkflowRun) error
	SaveRunState(ctx context.Context, run *db.WorkflowRun) error
	FinishRun(ctx context.Context, run *db.WorkflowRun) error
	GetRunStatus(ctx context.Context, runID uuid.UUID) (db.RunStatus, error)
}

// JobStore is the dedup gate's view of persisted job records.
type JobStore interface {
	FindJobByExternalID(ctx context.Context, userID uuid.UUID, externalJobID string) (*db.JobRecord, error)
}

// UserStore supplies per-user settings, credentials, and the base resume.
type UserStore interface {
	GetUserSettings(ctx context.Context, userID uuid.UUID) (*db.UserSettings, error)
	GetCredential(ctx context.Context, userID uuid.UUID, key string) (string, error)
	GetBaseResumeText(ctx context.Context, userID uuid.UUID) (string, error)
}

// JobSource acquires raw job postings for a search.
type JobSource interface {
	RetrieveJobs(ctx context.Context, credential string, opts scraper.Options) ([]scraper.RawJobData, error)
}

// ResumeStructurer returns the structured form of a resume, cached.
type ResumeStructurer interface {
	GetOrStructure(ctx context.Context, client llm.Client, userID uuid.UUID, resumeText string) (*resume.StructuredResume, error)
}

// JobAnalyzer runs the merged analysis for one acquired job.
type JobAnalyzer interface {
	ProcessJob(ctx context.Context, client llm.Client, userID uuid.UUID, raw scraper.RawJobData, structured *resume.StructuredResume, threshold int) (analysis.Outcome, error)
}

// Engine executes workflow runs.
type Engine struct {
	runs      RunStore
	jobs      JobStore
	users     UserStore
	source    JobSource
	resumes   ResumeStructurer
	analyzer  JobAnalyzer
	providers *provider.Registry

	// delayOverride replaces the provider's inter-batch delay in tests.
	delayOverride *time.Duration

	wg sync.WaitGroup
}

func NewEngine(runs RunStore, jobs JobStore, users UserStore, source JobSource, resumes ResumeStructurer, analyzer JobAnalyzer, providers *provider.Registry) *Engine {
	return &Engine{
		runs:      runs,
		jobs:      jobs,
		users:     users,
		source:    source,
		resumes:   resumes,
		analyzer:  analyzer,
		providers: providers,
	}
}

// Start creates the run synchronously so the caller gets an id immediately,
// then executes it in the background. Execution outlives the request
// context; cancellation happens through CancelRun, not context teardown.
func (e *Engine) Start(ctx context.Context, userID uuid.UUID, isManual bool) (uuid.UUID, error) {
	run := db.NewWorkflowRun(userID, isManual)
	if err := e.runs.CreateWorkflowRun(ctx, run); err != nil {
		return uuid.Nil, fmt.Errorf("creating workflow run: %w", err)
	}

	bgCtx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(bgCtx, run)
	}()
	return run.ID, nil
}

// Wait blocks until all in-flight runs have finished. Used on shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) execute(ctx context.Context, run *db.WorkflowRun) {
	err := e.runSteps(ctx, run)
	switch {
	case err == nil:
	case errors.Is(err, errCancelled), errors.Is(err, db.ErrRunFinished):
		e.finalizeCancelled(ctx, run)
	default:
		e.failRun(ctx, run, err)
	}
}

// runSteps walks the fixed step sequence. Any returned error other than
// errCancelled fails the run.
func (e *Engine) runSteps(ctx context.Context, run *db.WorkflowRun) error {
	// Step 0: Initialize. The initial document already has it running.
	settings, scraperCred, client, delay, err := e.initialize(ctx, run)
	if err != nil {
		return err
	}
	defer client.Close()
	e.completeStep(run, 0, "initialized", 0, 0)
	if err := e.saveAndCheck(ctx, run); err != nil {
		return err
	}

	// Step 1: Retrieve Jobs.
	e.beginStep(run, 1)
	if err := e.saveAndCheck(ctx, run); err != nil {
		return err
	}
	jobs, err := e.source.RetrieveJobs(ctx, scraperCred, scraper.Options{
		Keywords:        settings.SearchKeywords,
		Location:        settings.SearchLocation,
		MaxJobs:         settings.MaxJobs,
		AvoidDuplicates: true,
	})
	if err != nil {
		return fmt.Errorf("retrieving jobs: %w", err)
	}
	run.Stats.JobsFound = len(jobs)
	e.completeStep(run, 1, fmt.Sprintf("found %d jobs", len(jobs)), len(jobs), len(jobs))
	if err := e.saveAndCheck(ctx, run); err != nil {
		return err
	}

	// Step 2: Deduplicate.
	e.beginStep(run, 2)
	newJobs, duplicates, err := e.deduplicate(ctx, run.UserID, jobs)
	if err != nil {
		return fmt.Errorf("deduplicating jobs: %w", err)
	}
	run.Stats.NewJobs = len(newJobs)
	run.Stats.Duplicates = duplicates
	e.completeStep(run, 2, fmt.Sprintf("%d new, %d duplicates", len(newJobs), duplicates), len(newJobs), len(jobs))
	if err := e.saveAndCheck(ctx, run); err != nil {
		return err
	}

	// Nothing new to process: steps 3 and 4 stay pending.
	if len(newJobs) == 0 {
		return e.completeRun(ctx, run, "no new jobs to process")
	}

	// Step 3: Structure Resume.
	e.beginStep(run, 3)
	if err := e.saveAndCheck(ctx, run); err != nil {
		return err
	}
	resumeText, err := e.users.GetBaseResumeText(ctx, run.UserID)
	if err != nil {
		return fmt.Errorf("loading base resume: %w", err)
	}
	structured, err := e.resumes.GetOrStructure(ctx, client, run.UserID, resumeText)
	if err != nil {
		return fmt.Errorf("structuring resume: %w", err)
	}
	e.completeStep(run, 3, "resume structured", 0, 0)
	if err := e.saveAndCheck(ctx, run); err != nil {
		return err
	}

	// Step 4: Process Jobs.
	e.beginStep(run, 4)
	run.Steps[4].Total = len(newJobs)
	if err := e.saveAndCheck(ctx, run); err != nil {
		return err
	}
	if err := e.processJobs(ctx, run, settings, client, delay, newJobs, structured); err != nil {
		return err
	}
	e.completeStep(run, 4, fmt.Sprintf("analyzed %d jobs, %d errors", run.Stats.Analyzed, run.Stats.Errors), len(newJobs), len(newJobs))
	if err := e.saveAndCheck(ctx, run); err != nil {
		return err
	}

	// Step 5: Complete.
	return e.completeRun(ctx, run, fmt.Sprintf("%d relevant of %d new jobs", run.Stats.Relevant, run.Stats.NewJobs))
}

// initialize loads settings, required credentials, and the AI client for
// the run. Missing search parameters or credentials fail the run here,
// before any external work starts.
func (e *Engine) initialize(ctx context.Context, run *db.WorkflowRun) (*db.UserSettings, string, llm.Client, time.Duration, error) {
	settings, err := e.users.GetUserSettings(ctx, run.UserID)
	if err != nil {
		return nil, "", nil, 0, fmt.Errorf("loading user settings: %w", err)
	}
	if settings == nil {
		return nil, "", nil, 0, fmt.Errorf("user %s has no settings", run.UserID)
	}
	if strings.TrimSpace(settings.SearchKeywords) == "" && strings.TrimSpace(settings.SearchLocation) == "" {
		return nil, "", nil, 0, fmt.Errorf("search keywords or location must be configured")
	}

	scraperCred, err := e.users.GetCredential(ctx, run.UserID, scraper.CredentialKey)
	if err != nil {
		return nil, "", nil, 0, fmt.Errorf("loading scraper credential: %w", err)
	}
	if scraperCred == "" {
		return nil, "", nil, 0, fmt.Errorf("no %s credential configured", scraper.CredentialKey)
	}

	client, delay, err := e.buildClient(ctx, run.UserID, settings)
	if err != nil {
		return nil, "", nil, 0, err
	}
	return settings, scraperCred, client, delay, nil
}

// buildClient selects the user's provider and, when fallback is enabled and
// a default-provider credential exists, wraps the client so failed calls
// retry once against the default provider. The returned delay is the
// selected provider's recommended inter-batch spacing.
func (e *Engine) buildClient(ctx context.Context, userID uuid.UUID, settings *db.UserSettings) (llm.Client, time.Duration, error) {
	preferred := provider.Default
	if settings.PreferredProvider != "" {
		name, err := provider.ParseName(settings.PreferredProvider)
		if err != nil {
			return nil, 0, fmt.Errorf("resolving preferred provider: %w", err)
		}
		preferred = name
	}

	sel, err := e.providers.Select(ctx, credentialStoreFunc(e.users.GetCredential), provider.Profile{
		UserID:        userID,
		Preferred:     preferred,
		AllowFallback: settings.AllowFallback,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("selecting provider: %w", err)
	}
	delay := sel.Strategy.RateLimitDelay()
	primary, err := sel.Strategy.NewClient(ctx, sel.APIKey)
	if err != nil {
		return nil, 0, fmt.Errorf("creating %s client: %w", sel.Strategy.Name(), err)
	}

	if !settings.AllowFallback || sel.Strategy.Name() == provider.Default {
		return primary, delay, nil
	}
	fallbackSel, err := e.providers.Select(ctx, credentialStoreFunc(e.users.GetCredential), provider.Profile{
		UserID:    userID,
		Preferred: provider.Default,
	})
	if err != nil {
		log.Printf("[workflow] no fallback provider for user %s: %v", userID, err)
		return primary, delay, nil
	}
	fallback, err := fallbackSel.Strategy.NewClient(ctx, fallbackSel.APIKey)
	if err != nil {
		log.Printf("[workflow] fallback client unavailable for user %s: %v", userID, err)
		return primary, delay, nil
	}
	return provider.FailoverClient(primary, fallback), delay, nil
}

type credentialStoreFunc func(ctx context.Context, userID uuid.UUID, key string) (string, error)

func (f credentialStoreFunc) GetCredential(ctx context.Context, userID uuid.UUID, key string) (string, error) {
	return f(ctx, userID, key)
}

// deduplicate drops jobs the user already has a persisted record for,
// preserving order. The (userId, externalJobId) uniqueness constraint at
// write time remains the real integrity mechanism; this is a pre-filter.
func (e *Engine) deduplicate(ctx context.Context, userID uuid.UUID, jobs []scraper.RawJobData) ([]scraper.RawJobData, int, error) {
	newJobs := make([]scraper.RawJobData, 0, len(jobs))
	duplicates := 0
	for _, job := range jobs {
		existing, err := e.jobs.FindJobByExternalID(ctx, userID, job.ExternalID)
		if err != nil {
			return nil, 0, err
		}
		if existing != nil {
			duplicates++
			continue
		}
		newJobs = append(newJobs, job)
	}
	return newJobs, duplicates, nil
}

// processJobs drives the batch executor over the new jobs and folds per-job
// outcomes into the run's stats. Per-job failures never abort the batch.
func (e *Engine) processJobs(ctx context.Context, run *db.WorkflowRun, settings *db.UserSettings, client llm.Client, delay time.Duration, newJobs []scraper.RawJobData, structured *resume.StructuredResume) error {
	width := settings.Concurrency
	if width <= 0 {
		width = batch.DefaultWidth
	}
	if e.delayOverride != nil {
		delay = *e.delayOverride
	}

	opts := batch.Options{
		Width: width,
		Delay: delay,
		OnChunkDone: func(completed, total int) error {
			run.Steps[4].Count = completed
			return e.saveAndCheck(ctx, run)
		},
	}
	res, err := batch.Process(ctx, newJobs, opts, func(ctx context.Context, job scraper.RawJobData, _ int) (analysis.Outcome, error) {
		return e.analyzer.ProcessJob(ctx, client, run.UserID, job, structured, settings.RelevanceThreshold)
	})
	if err != nil {
		return err
	}

	for _, r := range res.Results {
		switch r.Value.Status {
		case db.JobStatusRelevant:
			run.Stats.Analyzed++
			run.Stats.Relevant++
		case db.JobStatusNotRelevant:
			run.Stats.Analyzed++
			run.Stats.NotRelevant++
		}
	}
	run.Stats.Errors += len(res.Errors)
	for _, itemErr := range res.Errors {
		log.Printf("[workflow] run %s: job %s failed: %v", run.ID, itemErr.Item.ExternalID, itemErr.Err)
	}
	return nil
}

// completeRun runs the final Complete step and stamps the terminal state.
func (e *Engine) completeRun(ctx context.Context, run *db.WorkflowRun, message string) error {
	e.beginStep(run, 5)
	e.completeStep(run, 5, message, 0, 0)
	run.Progress.Percentage = 100
	run.Status = db.RunStatusCompleted
	if err := e.runs.FinishRun(ctx, run); err != nil {
		if errors.Is(err, db.ErrRunFinished) {
			return errCancelled
		}
		return fmt.Errorf("finishing run: %w", err)
	}
	return nil
}

// saveAndCheck persists the run state and polls for external cancellation.
// A rejected save means the status flipped under us, which is the same
// signal.
func (e *Engine) saveAndCheck(ctx context.Context, run *db.WorkflowRun) error {
	if err := e.runs.SaveRunState(ctx, run); err != nil {
		if errors.Is(err, db.ErrRunFinished) {
			return errCancelled
		}
		return fmt.Errorf("saving run state: %w", err)
	}
	status, err := e.runs.GetRunStatus(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("checking run status: %w", err)
	}
	if status == db.RunStatusCancelled {
		return errCancelled
	}
	return nil
}

// finalizeCancelled stamps completed_at on an externally cancelled run.
// Completed step records are left intact.
func (e *Engine) finalizeCancelled(ctx context.Context, run *db.WorkflowRun) {
	run.Status = db.RunStatusCancelled
	if err := e.runs.FinishRun(ctx, run); err != nil && !errors.Is(err, db.ErrRunFinished) {
		log.Printf("[workflow] run %s: failed to finalize cancellation: %v", run.ID, err)
	}
}

func (e *Engine) failRun(ctx context.Context, run *db.WorkflowRun, cause error) {
	log.Printf("[workflow] run %s failed: %v", run.ID, cause)
	now := time.Now().UTC()
	for i := range run.Steps {
		if run.Steps[i].Status == db.StepStatusRunning {
			run.Steps[i].Status = db.StepStatusFailed
			run.Steps[i].CompletedAt = &now
			run.Steps[i].Message = cause.Error()
		}
	}
	msg := cause.Error()
	run.Status = db.RunStatusFailed
	run.ErrorMessage = &msg
	if err := e.runs.FinishRun(ctx, run); err != nil && !errors.Is(err, db.ErrRunFinished) {
		log.Printf("[workflow] run %s: failed to record failure: %v", run.ID, err)
	}
}

func (e *Engine) beginStep(run *db.WorkflowRun, index int) {
	now := time.Now().UTC()
	run.Progress = db.ProgressFor(index)
	run.Steps[index].Status = db.StepStatusRunning
	run.Steps[index].StartedAt = &now
}

func (e *Engine) completeStep(run *db.WorkflowRun, index int, message string, count, total int) {
	now := time.Now().UTC()
	run.Steps[index].Status = db.StepStatusCompleted
	run.Steps[index].CompletedAt = &now
	run.Steps[index].Message = message
	if count > 0 {
		run.Steps[index].Count = count
	}
	if total > 0 {
		run.Steps[index].Total = total
	}
}

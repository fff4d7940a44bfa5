package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ganainy/job-app-assistant/internal/analysis"
	"github.com/ganainy/job-app-assistant/internal/db"
	"github.com/ganainy/job-app-assistant/internal/llm"
	"github.com/ganainy/job-app-assistant/internal/provider"
	"github.com/ganainy/job-app-assistant/internal/resume"
	"github.com/ganainy/job-app-assistant/internal/scraper"
)

type fakeRunStore struct {
	mu               sync.Mutex
	run              *db.WorkflowRun
	saves            int
	finishes         int
	cancelAfterSaves int // when >0, the status flips to cancelled after this many saves
}

func (s *fakeRunStore) CreateWorkflowRun(_ context.Context, run *db.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.ID = uuid.New()
	clone := *run
	s.run = &clone
	return nil
}

func (s *fakeRunStore) SaveRunState(_ context.Context, run *db.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run.Status != db.RunStatusRunning {
		return db.ErrRunFinished
	}
	s.saves++
	s.run.Progress = run.Progress
	s.run.Steps = append([]db.RunStep(nil), run.Steps...)
	s.run.Stats = run.Stats
	if s.cancelAfterSaves > 0 && s.saves >= s.cancelAfterSaves {
		s.run.Status = db.RunStatusCancelled
	}
	return nil
}

func (s *fakeRunStore) FinishRun(_ context.Context, run *db.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !run.Status.IsTerminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", run.Status)
	}
	if s.run.CompletedAt != nil {
		return db.ErrRunFinished
	}
	s.finishes++
	now := time.Now().UTC()
	s.run.Status = run.Status
	s.run.Progress = run.Progress
	s.run.Steps = append([]db.RunStep(nil), run.Steps...)
	s.run.Stats = run.Stats
	s.run.ErrorMessage = run.ErrorMessage
	s.run.CompletedAt = &now
	return nil
}

func (s *fakeRunStore) GetRunStatus(_ context.Context, _ uuid.UUID) (db.RunStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run.Status, nil
}

func (s *fakeRunStore) snapshot() db.WorkflowRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.run
}

type fakeJobStore struct {
	existing map[string]bool
}

func (s *fakeJobStore) FindJobByExternalID(_ context.Context, userID uuid.UUID, externalJobID string) (*db.JobRecord, error) {
	if s.existing[externalJobID] {
		return &db.JobRecord{UserID: userID, ExternalJobID: externalJobID}, nil
	}
	return nil, nil
}

type fakeUserStore struct {
	settings    *db.UserSettings
	credentials map[string]string
	resumeText  string
	resumeErr   error
}

func (s *fakeUserStore) GetUserSettings(context.Context, uuid.UUID) (*db.UserSettings, error) {
	return s.settings, nil
}

func (s *fakeUserStore) GetCredential(_ context.Context, _ uuid.UUID, key string) (string, error) {
	return s.credentials[key], nil
}

func (s *fakeUserStore) GetBaseResumeText(context.Context, uuid.UUID) (string, error) {
	if s.resumeErr != nil {
		return "", s.resumeErr
	}
	return s.resumeText, nil
}

type fakeSource struct {
	jobs []scraper.RawJobData
	err  error
}

func (s *fakeSource) RetrieveJobs(context.Context, string, scraper.Options) ([]scraper.RawJobData, error) {
	return s.jobs, s.err
}

type fakeResumes struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeResumes) GetOrStructure(_ context.Context, _ llm.Client, _ uuid.UUID, _ string) (*resume.StructuredResume, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return &resume.StructuredResume{Summary: "Go engineer", Skills: []string{"Go"}}, nil
}

type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   int
	outcome func(raw scraper.RawJobData) (analysis.Outcome, error)
}

func (a *fakeAnalyzer) ProcessJob(_ context.Context, _ llm.Client, _ uuid.UUID, raw scraper.RawJobData, _ *resume.StructuredResume, _ int) (analysis.Outcome, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return a.outcome(raw)
}

func defaultSettings() *db.UserSettings {
	return &db.UserSettings{
		SearchKeywords:     "golang backend",
		SearchLocation:     "Berlin",
		MaxJobs:            20,
		Concurrency:        5,
		RelevanceThreshold: analysis.DefaultThreshold,
		PreferredProvider:  "gemini",
	}
}

func defaultCredentials() map[string]string {
	return map[string]string{
		scraper.CredentialKey: "apify_test_token",
		"gemini_api_key":      "AIzaTestKey123",
	}
}

func makeJobs(n int) []scraper.RawJobData {
	jobs := make([]scraper.RawJobData, n)
	for i := range jobs {
		jobs[i] = scraper.RawJobData{
			ExternalID:  fmt.Sprintf("job-%d", i),
			Title:       fmt.Sprintf("Engineer %d", i),
			Company:     "Acme",
			URL:         fmt.Sprintf("https://jobs.example.com/job-%d", i),
			Description: strings.Repeat("build services ", 20),
		}
	}
	return jobs
}

func newTestEngine(runs *fakeRunStore, jobs *fakeJobStore, users *fakeUserStore, source *fakeSource, resumes *fakeResumes, analyzer *fakeAnalyzer) *Engine {
	engine := NewEngine(runs, jobs, users, source, resumes, analyzer, provider.NewRegistry())
	zero := time.Duration(0)
	engine.delayOverride = &zero
	return engine
}

func TestEngine_EndToEnd(t *testing.T) {
	runs := &fakeRunStore{}
	jobStore := &fakeJobStore{existing: map[string]bool{"job-0": true, "job-1": true, "job-2": true}}
	users := &fakeUserStore{settings: defaultSettings(), credentials: defaultCredentials(), resumeText: "resume"}
	source := &fakeSource{jobs: makeJobs(10)}
	resumes := &fakeResumes{}
	analyzer := &fakeAnalyzer{outcome: func(raw scraper.RawJobData) (analysis.Outcome, error) {
		if raw.ExternalID == "job-3" {
			return analysis.Outcome{Status: db.JobStatusError}, analysis.ErrShortDescription
		}
		return analysis.Outcome{Status: db.JobStatusRelevant, Score: 80}, nil
	}}
	engine := newTestEngine(runs, jobStore, users, source, resumes, analyzer)

	runID, err := engine.Start(context.Background(), uuid.New(), true)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, runID)
	engine.Wait()

	got := runs.snapshot()
	assert.Equal(t, db.RunStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, db.RunStats{
		JobsFound:   10,
		NewJobs:     7,
		Duplicates:  3,
		Analyzed:    6,
		Relevant:    6,
		NotRelevant: 0,
		Errors:      1,
	}, got.Stats)
	for _, step := range got.Steps {
		assert.Equal(t, db.StepStatusCompleted, step.Status, step.Name)
	}
	assert.Equal(t, 100, got.Progress.Percentage)
	assert.Equal(t, 7, analyzer.calls)
	assert.Equal(t, 1, resumes.calls)
}

func TestEngine_ZeroNewJobsShortCircuit(t *testing.T) {
	runs := &fakeRunStore{}
	jobStore := &fakeJobStore{existing: map[string]bool{"job-0": true, "job-1": true, "job-2": true}}
	users := &fakeUserStore{settings: defaultSettings(), credentials: defaultCredentials(), resumeText: "resume"}
	source := &fakeSource{jobs: makeJobs(3)}
	resumes := &fakeResumes{}
	analyzer := &fakeAnalyzer{outcome: func(scraper.RawJobData) (analysis.Outcome, error) {
		return analysis.Outcome{}, fmt.Errorf("must not be called")
	}}
	engine := newTestEngine(runs, jobStore, users, source, resumes, analyzer)

	_, err := engine.Start(context.Background(), uuid.New(), false)
	require.NoError(t, err)
	engine.Wait()

	got := runs.snapshot()
	assert.Equal(t, db.RunStatusCompleted, got.Status)
	assert.Equal(t, 3, got.Stats.Duplicates)
	assert.Equal(t, 0, got.Stats.NewJobs)
	assert.Zero(t, got.Stats.Analyzed)
	assert.Zero(t, got.Stats.Relevant)
	assert.Zero(t, got.Stats.NotRelevant)
	assert.Equal(t, db.StepStatusPending, got.Steps[3].Status)
	assert.Equal(t, db.StepStatusPending, got.Steps[4].Status)
	assert.Equal(t, db.StepStatusCompleted, got.Steps[5].Status)
	assert.Equal(t, 0, resumes.calls)
	assert.Equal(t, 0, analyzer.calls)
}

func TestEngine_AcquisitionFailureFailsRun(t *testing.T) {
	runs := &fakeRunStore{}
	users := &fakeUserStore{settings: defaultSettings(), credentials: defaultCredentials(), resumeText: "resume"}
	source := &fakeSource{err: fmt.Errorf("actor rejected credential")}
	engine := newTestEngine(runs, &fakeJobStore{}, users, source, &fakeResumes{}, &fakeAnalyzer{})

	_, err := engine.Start(context.Background(), uuid.New(), false)
	require.NoError(t, err)
	engine.Wait()

	got := runs.snapshot()
	assert.Equal(t, db.RunStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "actor rejected credential")
	assert.Equal(t, db.StepStatusFailed, got.Steps[1].Status)
	require.NotNil(t, got.CompletedAt)
}

func TestEngine_MissingSearchParamsFailsAtInitialize(t *testing.T) {
	settings := defaultSettings()
	settings.SearchKeywords = ""
	settings.SearchLocation = "   "
	runs := &fakeRunStore{}
	users := &fakeUserStore{settings: settings, credentials: defaultCredentials()}
	engine := newTestEngine(runs, &fakeJobStore{}, users, &fakeSource{}, &fakeResumes{}, &fakeAnalyzer{})

	_, err := engine.Start(context.Background(), uuid.New(), false)
	require.NoError(t, err)
	engine.Wait()

	got := runs.snapshot()
	assert.Equal(t, db.RunStatusFailed, got.Status)
	assert.Equal(t, db.StepStatusFailed, got.Steps[0].Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "keywords or location")
}

func TestEngine_MissingScraperCredentialFailsAtInitialize(t *testing.T) {
	creds := defaultCredentials()
	delete(creds, scraper.CredentialKey)
	runs := &fakeRunStore{}
	users := &fakeUserStore{settings: defaultSettings(), credentials: creds}
	engine := newTestEngine(runs, &fakeJobStore{}, users, &fakeSource{}, &fakeResumes{}, &fakeAnalyzer{})

	_, err := engine.Start(context.Background(), uuid.New(), false)
	require.NoError(t, err)
	engine.Wait()

	got := runs.snapshot()
	assert.Equal(t, db.RunStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, scraper.CredentialKey)
}

func TestEngine_MissingResumeFailsRun(t *testing.T) {
	runs := &fakeRunStore{}
	users := &fakeUserStore{settings: defaultSettings(), credentials: defaultCredentials(), resumeErr: db.ErrNoResume}
	source := &fakeSource{jobs: makeJobs(2)}
	engine := newTestEngine(runs, &fakeJobStore{}, users, source, &fakeResumes{}, &fakeAnalyzer{})

	_, err := engine.Start(context.Background(), uuid.New(), false)
	require.NoError(t, err)
	engine.Wait()

	got := runs.snapshot()
	assert.Equal(t, db.RunStatusFailed, got.Status)
	assert.Equal(t, db.StepStatusFailed, got.Steps[3].Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "resume")
}

func TestEngine_ExternalCancellationStopsRun(t *testing.T) {
	// The status flips to cancelled right after the first save, so the
	// executor observes it before retrieving any jobs.
	runs := &fakeRunStore{cancelAfterSaves: 1}
	users := &fakeUserStore{settings: defaultSettings(), credentials: defaultCredentials(), resumeText: "resume"}
	source := &fakeSource{jobs: makeJobs(5)}
	analyzer := &fakeAnalyzer{outcome: func(scraper.RawJobData) (analysis.Outcome, error) {
		return analysis.Outcome{Status: db.JobStatusRelevant}, nil
	}}
	engine := newTestEngine(runs, &fakeJobStore{}, users, source, &fakeResumes{}, analyzer)

	_, err := engine.Start(context.Background(), uuid.New(), false)
	require.NoError(t, err)
	engine.Wait()

	got := runs.snapshot()
	assert.Equal(t, db.RunStatusCancelled, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, 0, analyzer.calls)
	// Completed step records stay intact.
	assert.Equal(t, db.StepStatusCompleted, got.Steps[0].Status)
}

func TestEngine_MidBatchCancellationStopsAtChunkBoundary(t *testing.T) {
	// Save sequence before the batch: step 0 complete, step 1 begin, step 1
	// complete, step 2 complete, step 3 begin, step 3 complete, step 4
	// begin. Save 8 is the first chunk's boundary save, so cancellation
	// lands after chunk one settles and before chunk two starts.
	runs := &fakeRunStore{cancelAfterSaves: 8}
	users := &fakeUserStore{settings: defaultSettings(), credentials: defaultCredentials(), resumeText: "resume"}
	source := &fakeSource{jobs: makeJobs(7)}
	analyzer := &fakeAnalyzer{outcome: func(scraper.RawJobData) (analysis.Outcome, error) {
		return analysis.Outcome{Status: db.JobStatusRelevant}, nil
	}}
	engine := newTestEngine(runs, &fakeJobStore{}, users, source, &fakeResumes{}, analyzer)

	_, err := engine.Start(context.Background(), uuid.New(), false)
	require.NoError(t, err)
	engine.Wait()

	got := runs.snapshot()
	assert.Equal(t, db.RunStatusCancelled, got.Status)
	assert.Equal(t, 5, analyzer.calls, "only the first chunk runs")
	require.NotNil(t, got.CompletedAt)
}

func TestEngine_PostTerminalFinishIsRejectedOnce(t *testing.T) {
	runs := &fakeRunStore{}
	users := &fakeUserStore{settings: defaultSettings(), credentials: defaultCredentials(), resumeText: "resume"}
	source := &fakeSource{jobs: nil}
	engine := newTestEngine(runs, &fakeJobStore{}, users, source, &fakeResumes{}, &fakeAnalyzer{})

	_, err := engine.Start(context.Background(), uuid.New(), false)
	require.NoError(t, err)
	engine.Wait()

	got := runs.snapshot()
	assert.Equal(t, db.RunStatusCompleted, got.Status)
	assert.Equal(t, 1, runs.finishes)

	// Further mutation attempts are no-ops.
	require.ErrorIs(t, runs.SaveRunState(context.Background(), &got), db.ErrRunFinished)
	require.ErrorIs(t, runs.FinishRun(context.Background(), &got), db.ErrRunFinished)
}

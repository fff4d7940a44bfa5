package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/ganainy/job-app-assistant/internal/config"
	"github.com/ganainy/job-app-assistant/internal/db"
	"github.com/ganainy/job-app-assistant/internal/provider"
)

type fakeStarter struct {
	runID uuid.UUID
	err   error
	calls int
}

func (f *fakeStarter) Start(_ context.Context, _ uuid.UUID, _ bool) (uuid.UUID, error) {
	f.calls++
	return f.runID, f.err
}

type fakeRunStore struct {
	mu        sync.Mutex
	runs      map[uuid.UUID]*db.WorkflowRun
	cancelErr error
	reads     int
	// afterReads flips the run terminal after this many reads, for the
	// stream handler test.
	afterReads int
}

func (f *fakeRunStore) GetWorkflowRun(_ context.Context, runID uuid.UUID) (*db.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, nil
	}
	f.reads++
	clone := *run
	if f.afterReads > 0 && f.reads > f.afterReads {
		clone.Status = db.RunStatusCompleted
	}
	return &clone, nil
}

func (f *fakeRunStore) ListWorkflowRuns(_ context.Context, userID uuid.UUID, limit int) ([]db.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.WorkflowRun
	for _, run := range f.runs {
		if run.UserID == userID && len(out) < limit {
			out = append(out, *run)
		}
	}
	return out, nil
}

func (f *fakeRunStore) CancelRun(context.Context, uuid.UUID) error {
	return f.cancelErr
}

type fakeCredentials struct {
	values map[string]string
}

func (f *fakeCredentials) GetCredential(_ context.Context, _ uuid.UUID, key string) (string, error) {
	return f.values[key], nil
}

type testServer struct {
	server  *Server
	handler http.Handler
	userID  uuid.UUID
	token   string
}

func newTestServer(t *testing.T, starter *fakeStarter, runs *fakeRunStore, creds *fakeCredentials) *testServer {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	jwtConfig, err := appconfig.NewJWTConfig()
	require.NoError(t, err)
	jwtService := NewJWTService(jwtConfig)

	if creds == nil {
		creds = &fakeCredentials{values: map[string]string{}}
	}
	s := newServer(starter, runs, creds, provider.NewRegistry(), jwtService)
	s.streamInterval = 10 * time.Millisecond
	t.Cleanup(s.rateLimiter.Stop)

	userID := uuid.New()
	token, err := jwtService.GenerateToken(userID)
	require.NoError(t, err)

	return &testServer{server: s, handler: s.Handler(), userID: userID, token: token}
}

func (ts *testServer) request(method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+ts.token)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func runningRun(userID uuid.UUID) *db.WorkflowRun {
	run := db.NewWorkflowRun(userID, true)
	run.ID = uuid.New()
	return run
}

func TestStartWorkflow(t *testing.T) {
	starter := &fakeStarter{runID: uuid.New()}
	ts := newTestServer(t, starter, &fakeRunStore{runs: map[uuid.UUID]*db.WorkflowRun{}}, nil)

	rec := ts.request(http.MethodPost, "/workflows", `{"is_manual": true}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, starter.runID.String(), resp["run_id"])
	assert.Equal(t, 1, starter.calls)
}

func TestStartWorkflow_Unauthorized(t *testing.T) {
	ts := newTestServer(t, &fakeStarter{}, &fakeRunStore{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetWorkflow(t *testing.T) {
	runs := &fakeRunStore{runs: map[uuid.UUID]*db.WorkflowRun{}}
	ts := newTestServer(t, &fakeStarter{}, runs, nil)

	run := runningRun(ts.userID)
	runs.runs[run.ID] = run

	rec := ts.request(http.MethodGet, "/workflows/"+run.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got db.WorkflowRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, db.RunStatusRunning, got.Status)
}

func TestGetWorkflow_OtherUsersRunIsHidden(t *testing.T) {
	runs := &fakeRunStore{runs: map[uuid.UUID]*db.WorkflowRun{}}
	ts := newTestServer(t, &fakeStarter{}, runs, nil)

	other := runningRun(uuid.New())
	runs.runs[other.ID] = other

	rec := ts.request(http.MethodGet, "/workflows/"+other.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetWorkflow_BadID(t *testing.T) {
	ts := newTestServer(t, &fakeStarter{}, &fakeRunStore{runs: map[uuid.UUID]*db.WorkflowRun{}}, nil)
	rec := ts.request(http.MethodGet, "/workflows/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation error: id")
}

func TestListWorkflows_InvalidLimit(t *testing.T) {
	ts := newTestServer(t, &fakeStarter{}, &fakeRunStore{runs: map[uuid.UUID]*db.WorkflowRun{}}, nil)
	rec := ts.request(http.MethodGet, "/workflows?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation error: limit")
}

func TestListWorkflows(t *testing.T) {
	runs := &fakeRunStore{runs: map[uuid.UUID]*db.WorkflowRun{}}
	ts := newTestServer(t, &fakeStarter{}, runs, nil)

	for i := 0; i < 3; i++ {
		run := runningRun(ts.userID)
		runs.runs[run.ID] = run
	}
	runs.runs[uuid.New()] = runningRun(uuid.New()) // another user's run

	rec := ts.request(http.MethodGet, "/workflows?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs []db.WorkflowRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Runs, 3)
}

func TestCancelWorkflow(t *testing.T) {
	runs := &fakeRunStore{runs: map[uuid.UUID]*db.WorkflowRun{}}
	ts := newTestServer(t, &fakeStarter{}, runs, nil)

	run := runningRun(ts.userID)
	runs.runs[run.ID] = run

	rec := ts.request(http.MethodPost, "/workflows/"+run.ID.String()+"/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cancelling", resp["status"])
}

func TestCancelWorkflow_AlreadyFinished(t *testing.T) {
	runs := &fakeRunStore{runs: map[uuid.UUID]*db.WorkflowRun{}, cancelErr: db.ErrRunFinished}
	ts := newTestServer(t, &fakeStarter{}, runs, nil)

	run := runningRun(ts.userID)
	runs.runs[run.ID] = run

	rec := ts.request(http.MethodPost, "/workflows/"+run.ID.String()+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStreamWorkflow(t *testing.T) {
	runs := &fakeRunStore{runs: map[uuid.UUID]*db.WorkflowRun{}, afterReads: 2}
	ts := newTestServer(t, &fakeStarter{}, runs, nil)

	run := runningRun(ts.userID)
	runs.runs[run.ID] = run

	rec := ts.request(http.MethodGet, "/workflows/"+run.ID.String()+"/stream", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, "event: complete")
	assert.Contains(t, body, fmt.Sprintf(`"run_id":"%s"`, run.ID))
	assert.Contains(t, body, `"status":"completed"`)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestStreamWorkflow_TerminalRunCompletesWithoutPolling(t *testing.T) {
	runs := &fakeRunStore{runs: map[uuid.UUID]*db.WorkflowRun{}}
	ts := newTestServer(t, &fakeStarter{}, runs, nil)

	run := runningRun(ts.userID)
	run.Status = db.RunStatusFailed
	runs.runs[run.ID] = run

	rec := ts.request(http.MethodGet, "/workflows/"+run.ID.String()+"/stream", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, "event: progress"))
	assert.Equal(t, 1, strings.Count(body, "event: complete"))
	assert.Contains(t, body, `"status":"failed"`)
	assert.Equal(t, 1, runs.reads, "one load for the handler, no status polls")
}

func TestProviderModels_NoCredentialIsEmptyList(t *testing.T) {
	ts := newTestServer(t, &fakeStarter{}, &fakeRunStore{runs: map[uuid.UUID]*db.WorkflowRun{}}, nil)

	rec := ts.request(http.MethodGet, "/providers/gemini/models", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Provider string   `json:"provider"`
		Models   []string `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "gemini", resp.Provider)
	assert.Empty(t, resp.Models)
}

func TestProviderModels_UnknownProvider(t *testing.T) {
	ts := newTestServer(t, &fakeStarter{}, &fakeRunStore{runs: map[uuid.UUID]*db.WorkflowRun{}}, nil)
	rec := ts.request(http.MethodGet, "/providers/grok/models", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth_NoAuthRequired(t *testing.T) {
	ts := newTestServer(t, &fakeStarter{}, &fakeRunStore{runs: map[uuid.UUID]*db.WorkflowRun{}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

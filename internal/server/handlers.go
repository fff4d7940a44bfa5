package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ganainy/job-app-assistant/internal/db"
	"github.com/ganainy/job-app-assistant/internal/provider"
	"github.com/ganainy/job-app-assistant/internal/server/middleware"
)

// WorkflowStarter launches workflow runs. Implemented by workflow.Engine.
type WorkflowStarter interface {
	Start(ctx context.Context, userID uuid.UUID, isManual bool) (uuid.UUID, error)
}

// RunStore reads and cancels persisted workflow runs.
type RunStore interface {
	GetWorkflowRun(ctx context.Context, runID uuid.UUID) (*db.WorkflowRun, error)
	ListWorkflowRuns(ctx context.Context, userID uuid.UUID, limit int) ([]db.WorkflowRun, error)
	CancelRun(ctx context.Context, runID uuid.UUID) error
}

// CredentialStore reads per-user provider credentials.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID uuid.UUID, key string) (string, error)
}

type startWorkflowRequest struct {
	IsManual *bool `json:"is_manual,omitempty"`
}

// handleStartWorkflow creates a run and returns its id immediately; the
// pipeline executes in the background.
func (s *Server) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	isManual := true
	if r.Body != nil && r.ContentLength != 0 {
		var req startWorkflowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.IsManual != nil {
			isManual = *req.IsManual
		}
	}

	runID, err := s.workflows.Start(r.Context(), userID, isManual)
	if err != nil {
		log.Printf("Error starting workflow for user %s: %v", userID, err)
		s.errorResponse(w, HTTPStatus(err), "failed to start workflow")
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"run_id": runID.String()})
}

// handleGetWorkflow returns one run document. Runs belonging to other
// users are reported as not found.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	run, ok := s.visibleRun(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			verr := &ErrValidation{Field: "limit", Message: "must be a positive integer"}
			s.errorResponse(w, HTTPStatus(verr), verr.Error())
			return
		}
		if n > 100 {
			n = 100
		}
		limit = n
	}

	runs, err := s.runs.ListWorkflowRuns(r.Context(), userID, limit)
	if err != nil {
		log.Printf("Error listing workflows for user %s: %v", userID, err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list workflows")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleCancelWorkflow requests cooperative cancellation. The executor
// observes the flipped status at its next step or chunk boundary.
func (s *Server) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	run, ok := s.visibleRun(w, r)
	if !ok {
		return
	}
	if err := s.runs.CancelRun(r.Context(), run.ID); err != nil {
		if errors.Is(err, db.ErrRunFinished) {
			s.errorResponse(w, http.StatusConflict, "run already finished")
			return
		}
		log.Printf("Error cancelling run %s: %v", run.ID, err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to cancel run")
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"run_id": run.ID.String(), "status": "cancelling"})
}

// handleStreamWorkflow streams run progress as Server-Sent Events until
// the run reaches a terminal status or the client disconnects.
func (s *Server) handleStreamWorkflow(w http.ResponseWriter, r *http.Request) {
	run, ok := s.visibleRun(w, r)
	if !ok {
		return
	}

	stream, err := newRunStream(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := stream.Progress(run); err != nil {
		return
	}
	if run.Status.IsTerminal() {
		stream.Complete(run)
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			run, err := s.runs.GetWorkflowRun(r.Context(), run.ID)
			if err != nil {
				stream.Error("failed to read run state")
				return
			}
			if run == nil {
				stream.Error("run no longer exists")
				return
			}
			if err := stream.Progress(run); err != nil {
				return
			}
			if run.Status.IsTerminal() {
				stream.Complete(run)
				return
			}
		}
	}
}

// handleProviderModels lists the live model catalog for one provider using
// the caller's stored credential. No credential yields an empty list.
func (s *Server) handleProviderModels(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	name, err := provider.ParseName(r.PathValue("name"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	strategy, err := s.providers.Get(name)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	apiKey, err := s.credentials.GetCredential(r.Context(), userID, strategy.CredentialKey())
	if err != nil {
		log.Printf("Error reading credential for user %s: %v", userID, err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to read credential")
		return
	}
	models, err := strategy.ListModels(r.Context(), apiKey)
	if err != nil {
		log.Printf("Error listing models for %s: %v", name, err)
		s.errorResponse(w, http.StatusBadGateway, "failed to list models")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"provider": name, "models": models})
}

// visibleRun loads the run in the path and enforces ownership. Another
// user's run is indistinguishable from a missing one.
func (s *Server) visibleRun(w http.ResponseWriter, r *http.Request) (*db.WorkflowRun, bool) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		verr := &ErrValidation{Field: "id", Message: "must be a valid run id"}
		s.errorResponse(w, HTTPStatus(verr), verr.Error())
		return nil, false
	}
	run, err := s.runs.GetWorkflowRun(r.Context(), runID)
	if err != nil {
		log.Printf("Error loading run %s: %v", runID, err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load run")
		return nil, false
	}
	if run == nil || run.UserID != userID {
		s.errorResponse(w, http.StatusNotFound, (&ErrRunNotFound{RunID: runID}).Error())
		return nil, false
	}
	return run, true
}

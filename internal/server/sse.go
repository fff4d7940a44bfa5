package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ganainy/job-app-assistant/internal/db"
)

var errStreamingUnsupported = errors.New("streaming not supported")

// runCompletion is the payload of the terminal "complete" event.
type runCompletion struct {
	RunID  string       `json:"run_id"`
	Status db.RunStatus `json:"status"`
}

// runStream emits the progress feed for one workflow run as Server-Sent
// Events: "progress" events carry the full run document, a single
// "complete" event ends a finished run, "error" reports a stream-side
// failure before closing.
type runStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newRunStream(w http.ResponseWriter) (*runStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &runStream{w: w, flusher: flusher}, nil
}

// Progress emits the current run document.
func (s *runStream) Progress(run *db.WorkflowRun) error {
	return s.emit("progress", run)
}

// Complete emits the terminal event for a run that has finished.
func (s *runStream) Complete(run *db.WorkflowRun) {
	s.emit("complete", runCompletion{RunID: run.ID.String(), Status: run.Status}) //nolint:errcheck
}

// Error reports a failure to the client before the stream closes.
func (s *runStream) Error(message string) {
	s.emit("error", map[string]string{"error": message}) //nolint:errcheck
}

func (s *runStream) emit(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

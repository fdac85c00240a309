package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ethpandaops/runfeatures/pkg/indexstore"
	"github.com/ethpandaops/runfeatures/pkg/report"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// runResponse is a run report with its index status.
type runResponse struct {
	*report.RunReport
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListRuns returns every indexed run in run id order.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing runs: " + err.Error()})

		return
	}

	out := make([]runResponse, 0, len(runs))

	for i := range runs {
		resp, err := toResponse(&runs[i])
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{err.Error()})

			return
		}

		out = append(out, resp)
	}

	writeJSON(w, http.StatusOK, out)
}

// handleGetRun returns a single run.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, indexstore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

		return
	}

	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"getting run: " + err.Error()})

		return
	}

	resp, err := toResponse(run)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSummary returns the cross-run summary rebuilt from the index.
func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing runs: " + err.Error()})

		return
	}

	sum, err := indexstore.BuildSummary(s.robots, runs)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{err.Error()})

		return
	}

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(report.GenerateMarkdown(sum, 0)))

		return
	}

	writeJSON(w, http.StatusOK, sum)
}

func toResponse(run *indexstore.Run) (runResponse, error) {
	rep, err := run.Report()
	if err != nil {
		return runResponse{}, err
	}

	return runResponse{RunReport: rep, Status: run.Status, Error: run.Error}, nil
}

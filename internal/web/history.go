package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cjeanneret/timelapser/internal/debug"
	"github.com/cjeanneret/timelapser/internal/journal"
)

// History reads past runs. *journal.Journal implements it.
type History interface {
	Runs(ctx context.Context, limit int) ([]journal.Run, error)
	Run(ctx context.Context, id string) (*journal.Run, error)
	Frames(ctx context.Context, runID string) ([]journal.Frame, error)
}

var _ History = (*journal.Journal)(nil)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// RunDetail is the body of GET /runs/{id}.
type RunDetail struct {
	Run    *journal.Run    `json:"run"`
	Frames []journal.Frame `json:"frames"`
}

// HandleRuns lists journaled runs, newest first. ?limit= caps the count.
func (h *Handlers) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		http.Error(w, "journal disabled", http.StatusServiceUnavailable)
		return
	}
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxRunsLimit {
			http.Error(w, "limit must be 1-200", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := h.History.Runs(r.Context(), limit)
	if err != nil {
		debug.Error(err)
		http.Error(w, "journal read failed", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []journal.Run{}
	}
	writeJSON(w, runs)
}

// HandleRun returns one run with its frames.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		http.Error(w, "journal disabled", http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")
	run, err := h.History.Run(r.Context(), id)
	if errors.Is(err, journal.ErrNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		debug.Error(err)
		http.Error(w, "journal read failed", http.StatusInternalServerError)
		return
	}
	frames, err := h.History.Frames(r.Context(), id)
	if err != nil {
		debug.Error(err)
		http.Error(w, "journal read failed", http.StatusInternalServerError)
		return
	}
	if frames == nil {
		frames = []journal.Frame{}
	}
	writeJSON(w, RunDetail{Run: run, Frames: frames})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Verbose("web: encode response: %v", err)
	}
}

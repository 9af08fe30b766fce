package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"ragctx/internal/manifest"
	"ragctx/internal/middleware"
)

type PassageCounter interface {
	Count(ctx context.Context) (int, error)
}

type RunStore interface {
	ListRuns(ctx context.Context) ([]manifest.Run, error)
	Entries(ctx context.Context, runID string) ([]manifest.Entry, error)
}

type Handler struct {
	index PassageCounter
	runs  RunStore
}

func NewHandler(index PassageCounter, runs RunStore) *Handler {
	return &Handler{index: index, runs: runs}
}

type StatsResponse struct {
	Passages     int      `json:"passages"`
	Runs         int      `json:"runs"`
	LastRunID    string   `json:"last_run_id,omitempty"`
	LastRunState string   `json:"last_run_state,omitempty"`
	FailedChunks []string `json:"failed_chunks"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	passages, err := h.index.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count passages", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INDEX_UNAVAILABLE", "failed to count passages", http.StatusServiceUnavailable)
		return
	}

	runs, err := h.runs.ListRuns(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list runs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list runs", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{Passages: passages, Runs: len(runs), FailedChunks: []string{}}
	if len(runs) > 0 {
		last := runs[0]
		resp.LastRunID = last.ID
		resp.LastRunState = string(last.State)

		entries, err := h.runs.Entries(ctx, last.ID)
		if err != nil {
			slog.ErrorContext(ctx, "failed to read manifest", "run_id", last.ID, "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read manifest", http.StatusInternalServerError)
			return
		}
		for _, e := range entries {
			if e.Status == manifest.StatusFailed {
				resp.FailedChunks = append(resp.FailedChunks, e.ChunkID)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

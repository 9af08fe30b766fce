package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"ragctx/internal/apperr"
	"ragctx/internal/middleware"
	"ragctx/internal/retrieval"
)

type Retriever interface {
	Query(ctx context.Context, query string, opts *retrieval.QueryOptions) (*retrieval.RetrievalResult, error)
}

type Request struct {
	Query string `json:"query"`
	K     *int   `json:"k,omitempty"`
}

type Response struct {
	*retrieval.RetrievalResult
	Prompt string `json:"prompt"`
}

type Handler struct {
	retriever Retriever
}

func NewHandler(r Retriever) *Handler {
	return &Handler{retriever: r}
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid JSON", http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "query received", "correlationId", correlationID)

	result, err := h.retriever.Query(ctx, req.Query, &retrieval.QueryOptions{Limit: req.K})
	if err != nil {
		code, status := apperr.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			slog.ErrorContext(ctx, "query failed", "error", err, "correlationId", correlationID)
		}
		h.writeError(ctx, w, code, err.Error(), status)
		return
	}

	resp := Response{RetrievalResult: result, Prompt: retrieval.FormatPrompt(result)}
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

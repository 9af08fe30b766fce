package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragctx/internal/manifest"
	"ragctx/internal/middleware"
	"ragctx/internal/retrieval"
)

const (
	ToolRetrieveContext = "retrieve_context"
	ToolListRuns        = "list_ingestion_runs"
)

type Retriever interface {
	Query(ctx context.Context, query string, opts *retrieval.QueryOptions) (*retrieval.RetrievalResult, error)
}

type RunLister interface {
	List(ctx context.Context) ([]manifest.Run, error)
}

type Handler struct {
	retriever    Retriever
	runs         RunLister
	sessions     map[string]chan string // sessionId -> message channel (serialized JSON-RPC response)
	sessionsLock sync.RWMutex
}

func NewHandler(r Retriever, runs RunLister) *Handler {
	return &Handler{
		retriever: r,
		runs:      runs,
		sessions:  make(map[string]chan string),
	}
}

// JSON-RPC Request types
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type RetrieveArgs struct {
	Query string `json:"query"`
	K     *int   `json:"k,omitempty"`
	// Raw returns the passages without the prompt framing.
	Raw bool `json:"raw,omitempty"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// JSON-RPC Response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

var tools = []Tool{
	{
		Name: ToolRetrieveContext,
		Description: `Retrieves the passages of the captured documentation most similar to a question and returns them as a grounding context block followed by the question.

Use this before answering any question about the indexed sites. Answer only from the returned context.

USAGE EXAMPLE:
retrieve_context(query="how do I rotate an API key", k=5)`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]string{
					"type":        "string",
					"description": "The user question",
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of passages to return (server default when omitted).",
					"minimum":     1,
					"maximum":     50,
				},
				"raw": map[string]interface{}{
					"type":        "boolean",
					"description": "Return scored passages instead of the prompt block.",
				},
			},
			"required": []string{"query"},
		},
	},
	{
		Name:        ToolListRuns,
		Description: "Lists ingestion runs, newest first, with their state and counts. Use it to check how fresh the index is.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	},
}

// processRequest processes the JSON-RPC request and returns a response.
// Returns nil if no response should be sent (e.g. for notifications).
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "ragctx-mcp",
					"version": "1.0.0",
				},
			},
		}
	case "notifications/initialized":
		// Notifications must not generate a response
		return nil
	case "ping":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: tools}}
	case "tools/call":
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			slog.WarnContext(ctx, "invalid params structure", "error", err)
			resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
			return &resp
		}
		switch params.Name {
		case ToolRetrieveContext:
			return h.retrieveContext(ctx, req.ID, params.Arguments)
		case ToolListRuns:
			return h.listRuns(ctx, req.ID)
		}
		slog.WarnContext(ctx, "method not found", "method", params.Name)
		resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found: "+params.Name)
		return &resp
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	return &resp
}

func (h *Handler) retrieveContext(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args RetrieveArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		resp := makeErrorResponse(id, ErrInvalidParams, "Invalid arguments")
		return &resp
	}
	if strings.TrimSpace(args.Query) == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "Query is required")
		return &resp
	}
	if args.K != nil && *args.K <= 0 {
		resp := makeErrorResponse(id, ErrInvalidParams, "k must be a positive integer")
		return &resp
	}

	result, err := h.retriever.Query(ctx, args.Query, &retrieval.QueryOptions{Limit: args.K})
	if err != nil {
		slog.ErrorContext(ctx, "retrieval failed", "error", err)
		// tool errors are reported in the result so the agent can read them
		return toolResponse(id, "Retrieval failed: "+err.Error(), true)
	}

	var text string
	if args.Raw {
		text = formatPassages(result)
	} else {
		text = retrieval.FormatPrompt(result)
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", ToolRetrieveContext, "result_count", len(result.Passages))
	return toolResponse(id, text, false)
}

func formatPassages(result *retrieval.RetrievalResult) string {
	if len(result.Passages) == 0 {
		return "No results found."
	}
	var b strings.Builder
	for i, p := range result.Passages {
		fmt.Fprintf(&b, "Result %d (Score: %.2f):\n", i+1, p.Score)
		if p.Metadata.Title != "" {
			fmt.Fprintf(&b, "Title: %s\n", p.Metadata.Title)
		}
		if p.Metadata.URL != "" {
			fmt.Fprintf(&b, "URL: %s\n", p.Metadata.URL)
		}
		fmt.Fprintf(&b, "ChunkID: %s\n", p.ChunkID)
		fmt.Fprintf(&b, "Content:\n%s\n", p.Text)
		b.WriteString("\n---\n")
	}
	return b.String()
}

func (h *Handler) listRuns(ctx context.Context, id interface{}) *JSONRPCResponse {
	if h.runs == nil {
		return toolResponse(id, "No ingestion runs recorded.", false)
	}
	runs, err := h.runs.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "listing runs failed", "error", err)
		resp := makeErrorResponse(id, ErrInternal, "Listing runs failed: "+err.Error())
		return &resp
	}
	if len(runs) == 0 {
		return toolResponse(id, "No ingestion runs recorded.", false)
	}

	var b strings.Builder
	for _, r := range runs {
		s := r.Summary
		fmt.Fprintf(&b, "%s  %s  started %s  documents=%d chunks=%d indexed=%d skipped=%d failed=%d\n",
			r.ID, r.State, r.StartedAt.Format(time.RFC3339), s.Documents, s.Chunks, s.Indexed, s.Skipped, s.Failed)
	}
	return toolResponse(id, b.String(), false)
}

func toolResponse(id interface{}, text string, isError bool) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: ToolResult{
			Content: []ToolContent{{Type: "text", Text: text}},
			IsError: isError,
		},
	}
}

func makeErrorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.InfoContext(r.Context(), "mcp request received", "method", r.Method, "path", r.URL.Path)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, nil, ErrParse, "Parse error")
		return
	}

	resp := h.processRequest(r.Context(), req)
	if resp != nil {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
		}
	} else {
		// Notification, just return OK
		w.WriteHeader(http.StatusOK)
	}
}

// HandleSSE establishes the SSE connection and manages the session
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		h.sessionsLock.Unlock()
		slog.Info("sse session ended", "session_id", sessionID)
	}()

	slog.Info("sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)

	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			// keep-alive comment
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts POST messages associated with a session
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		slog.Warn("missing sessionId in message request", "correlation_id", correlationID)
		h.writeHttpError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId", correlationID)
		return
	}

	h.sessionsLock.RLock()
	msgChan, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()

	if !exists {
		slog.Warn("session not found", "session_id", sessionID, "correlation_id", correlationID)
		h.writeHttpError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", correlationID)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("invalid json in message request", "error", err, "correlation_id", correlationID)
		h.writeHttpError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON", correlationID)
		return
	}

	// MCP: acknowledge immediately, the response travels over the SSE stream
	w.WriteHeader(http.StatusAccepted)

	bgCtx := context.WithoutCancel(r.Context())

	go func() {
		resp := h.processRequest(bgCtx, req)
		if resp == nil {
			return
		}

		respBytes, err := json.Marshal(resp)
		if err != nil {
			slog.Error("failed to marshal response", "error", err, "correlation_id", correlationID)
			return
		}

		select {
		case msgChan <- string(respBytes):
		default:
			slog.Warn("session channel full, dropping message", "session_id", sessionID, "correlation_id", correlationID)
		}
	}()
}

func (h *Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	// JSON-RPC errors travel in a 200 response body
	w.WriteHeader(http.StatusOK)

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

func (h *Handler) writeHttpError(w http.ResponseWriter, status int, code string, message string, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"status": "error",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"correlationId": correlationID,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

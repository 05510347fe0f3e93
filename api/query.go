package api

import (
	"encoding/json"
	"net/http"

	"github.com/aldin-datascience/tech-docs-rag/internal/log"
	"github.com/aldin-datascience/tech-docs-rag/internal/pipeline"
)

// MaxQueryBody bounds the query request body.
const MaxQueryBody = 64 << 10

// QueryRequest is the body of POST /api/query. An empty session_id starts a
// new conversation; the response returns the id to continue it.
type QueryRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Question  string `json:"question"`
}

// QueryResponse is the answer envelope.
type QueryResponse struct {
	SessionID string   `json:"session_id"`
	Answer    string   `json:"answer"`
	Citations []string `json:"citations,omitempty"`
	Grounded  bool     `json:"grounded"`
}

// QueryHandler answers questions through the pipeline.
type QueryHandler struct {
	orch   *pipeline.Orchestrator
	logger log.Logger
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(orch *pipeline.Orchestrator, logger log.Logger) *QueryHandler {
	return &QueryHandler{orch: orch, logger: logger}
}

// RegisterRoutes registers the query route on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.query)
}

func (h *QueryHandler) query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxQueryBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(pipeline.CodeInvalidRequest), "invalid JSON body")
		return
	}

	resp, err := h.orch.Ask(r.Context(), req.SessionID, req.Question)
	if err != nil {
		h.logger.Warn("query failed",
			"session_id", req.SessionID, "code", pipeline.CodeOf(err), "error", err)
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		SessionID: resp.SessionID,
		Answer:    resp.Answer,
		Citations: resp.Citations,
		Grounded:  resp.Grounded,
	})
}

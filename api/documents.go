package api

import (
	"encoding/json"
	"net/http"

	"github.com/aldin-datascience/tech-docs-rag/internal/document"
	"github.com/aldin-datascience/tech-docs-rag/internal/log"
	"github.com/aldin-datascience/tech-docs-rag/internal/pipeline"
)

// MaxDocumentBody bounds the ingestion request body. Documentation pages
// are text; anything larger than this is almost certainly a mistake.
const MaxDocumentBody = 8 << 20

// IngestRequest is the body of POST /api/documents. Binary formats are
// extracted to text before they reach this endpoint.
type IngestRequest struct {
	Source      string `json:"source"`
	Title       string `json:"title,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Text        string `json:"text"`
}

// IngestResponse reports what the ingestion changed.
type IngestResponse struct {
	DocumentID    string `json:"document_id"`
	ChunksIndexed int    `json:"chunks_indexed"`
	ChunksRemoved int    `json:"chunks_removed"`
	Unchanged     bool   `json:"unchanged"`
}

// DocumentHandler manages index contents over HTTP.
type DocumentHandler struct {
	orch   *pipeline.Orchestrator
	logger log.Logger
}

// NewDocumentHandler creates a document handler.
func NewDocumentHandler(orch *pipeline.Orchestrator, logger log.Logger) *DocumentHandler {
	return &DocumentHandler{orch: orch, logger: logger}
}

// RegisterRoutes registers document routes on the given mux.
func (h *DocumentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/documents", h.ingest)
	mux.HandleFunc("DELETE /api/documents/{id}", h.remove)
}

func (h *DocumentHandler) ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxDocumentBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(pipeline.CodeInvalidRequest), "invalid JSON body")
		return
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = document.ContentTypePlain
	}

	res, err := h.orch.IngestDocument(r.Context(), document.Document{
		Source:      req.Source,
		Title:       req.Title,
		ContentType: contentType,
		Text:        req.Text,
	})
	if err != nil {
		h.logger.Warn("ingestion failed",
			"source", req.Source, "code", pipeline.CodeOf(err), "error", err)
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{
		DocumentID:    res.DocumentID,
		ChunksIndexed: res.ChunksIndexed,
		ChunksRemoved: res.ChunksRemoved,
		Unchanged:     res.Unchanged,
	})
}

func (h *DocumentHandler) remove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	res, err := h.orch.RemoveDocument(r.Context(), id)
	if err != nil {
		h.logger.Warn("removal failed",
			"document_id", id, "code", pipeline.CodeOf(err), "error", err)
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{
		DocumentID:    res.DocumentID,
		ChunksRemoved: res.ChunksRemoved,
	})
}

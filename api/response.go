package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aldin-datascience/tech-docs-rag/internal/pipeline"
)

// ErrorResponse is the JSON error envelope. Error carries the stable
// failure code clients switch on.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response with the given status code. Encoding
// failures after WriteHeader cannot reach the client; they are only logged.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// writePipelineError maps the pipeline error taxonomy onto HTTP statuses.
func writePipelineError(w http.ResponseWriter, err error) {
	code := pipeline.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case pipeline.CodeInvalidRequest:
		status = http.StatusBadRequest
	case pipeline.CodeBudgetExceeded:
		status = http.StatusUnprocessableEntity
	case pipeline.CodeRetrievalFailed, pipeline.CodeGenerationFailed, pipeline.CodeIngestionFailed:
		status = http.StatusBadGateway
	}
	if code == "" {
		code = "internal"
	}
	writeError(w, status, string(code), err.Error())
}

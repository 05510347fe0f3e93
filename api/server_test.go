package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aldin-datascience/tech-docs-rag/internal/answer"
	"github.com/aldin-datascience/tech-docs-rag/internal/document"
	"github.com/aldin-datascience/tech-docs-rag/internal/index"
	"github.com/aldin-datascience/tech-docs-rag/internal/ingest"
	"github.com/aldin-datascience/tech-docs-rag/internal/llm"
	"github.com/aldin-datascience/tech-docs-rag/internal/pipeline"
	"github.com/aldin-datascience/tech-docs-rag/internal/prompt"
	"github.com/aldin-datascience/tech-docs-rag/internal/session"
)

type fakeStore struct {
	index.Store
	pingErr error
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type fakeRetriever struct {
	results []index.ScoredRecord
	err     error
}

func (f *fakeRetriever) Retrieve(context.Context, string, int, map[string]string) ([]index.ScoredRecord, error) {
	return f.results, f.err
}

type fakeGenerator struct {
	answer answer.Answer
	err    error
}

func (f *fakeGenerator) Generate(context.Context, string, prompt.AugmentedPrompt, []llm.Message) (answer.Answer, error) {
	return f.answer, f.err
}

type fakeIngestor struct {
	result ingest.Result
	err    error
}

func (f *fakeIngestor) Ingest(_ context.Context, doc document.Document) (ingest.Result, error) {
	if doc.Source == "" {
		return ingest.Result{}, ingest.ErrMissingSource
	}
	if doc.Text == "" {
		return ingest.Result{}, ingest.ErrEmptyDocument
	}
	return f.result, f.err
}

func (f *fakeIngestor) Remove(context.Context, string) (ingest.Result, error) {
	return f.result, f.err
}

type serverFixture struct {
	retriever *fakeRetriever
	generator *fakeGenerator
	ingestor  *fakeIngestor
	store     *fakeStore
	handler   http.Handler
}

func newFixture(t *testing.T) *serverFixture {
	t.Helper()

	f := &serverFixture{
		retriever: &fakeRetriever{},
		generator: &fakeGenerator{answer: answer.Answer{Text: "An answer.", Citations: []string{"chunk_a"}, Grounded: true}},
		ingestor:  &fakeIngestor{result: ingest.Result{DocumentID: "doc_x", ChunksIndexed: 3}},
		store:     &fakeStore{},
	}

	sessions := session.NewManager(session.Options{}, nil)
	t.Cleanup(sessions.Stop)

	orch := pipeline.New(
		session.TemplateRewriter{},
		f.retriever,
		prompt.NewAssembler(prompt.EstimateCounter{}, 1000, nil),
		f.generator,
		sessions,
		f.ingestor,
		pipeline.Options{},
		nil,
	)
	f.handler = NewServer(orch, f.store, nil).Handler()
	return f
}

func (f *serverFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestQueryEndpoint(t *testing.T) {
	t.Run("answers question", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/query", `{"question":"how do I install?"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp QueryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "An answer.", resp.Answer)
		assert.True(t, resp.Grounded)
		assert.Equal(t, []string{"chunk_a"}, resp.Citations)
		assert.NotEmpty(t, resp.SessionID)
	})

	t.Run("keeps session across requests", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/query", `{"question":"first"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		var first QueryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

		rec = f.do(t, http.MethodPost, "/api/query",
			`{"session_id":"`+first.SessionID+`","question":"second"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		var second QueryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
		assert.Equal(t, first.SessionID, second.SessionID)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/query", `{not json`)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "invalid_request", resp.Error)
	})

	t.Run("empty question", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/query", `{"question":""}`)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "invalid_request", resp.Error)
	})

	t.Run("generation failure maps to bad gateway", func(t *testing.T) {
		f := newFixture(t)
		f.generator.err = answer.ErrGeneration

		rec := f.do(t, http.MethodPost, "/api/query", `{"question":"q"}`)
		require.Equal(t, http.StatusBadGateway, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "generation_failed", resp.Error)
	})

	t.Run("retrieval failure maps to bad gateway", func(t *testing.T) {
		f := newFixture(t)
		f.retriever.err = errors.New("index down")

		rec := f.do(t, http.MethodPost, "/api/query", `{"question":"q"}`)
		require.Equal(t, http.StatusBadGateway, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "retrieval_failed", resp.Error)
	})
}

func TestDocumentEndpoints(t *testing.T) {
	t.Run("ingest document", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/documents",
			`{"source":"docs/install.md","title":"Install","content_type":"text/markdown","text":"# Install\n\nRun setup."}`)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp IngestResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "doc_x", resp.DocumentID)
		assert.Equal(t, 3, resp.ChunksIndexed)
	})

	t.Run("missing source", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/documents", `{"text":"content"}`)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "invalid_request", resp.Error)
	})

	t.Run("ingestion failure maps to bad gateway", func(t *testing.T) {
		f := newFixture(t)
		f.ingestor.err = index.ErrUnavailable

		rec := f.do(t, http.MethodPost, "/api/documents",
			`{"source":"docs/a.md","text":"content"}`)
		require.Equal(t, http.StatusBadGateway, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ingestion_failed", resp.Error)
	})

	t.Run("remove document", func(t *testing.T) {
		f := newFixture(t)
		f.ingestor.result = ingest.Result{DocumentID: "doc_x", ChunksRemoved: 3}

		rec := f.do(t, http.MethodDelete, "/api/documents/doc_x", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp IngestResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 3, resp.ChunksRemoved)
	})
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("liveness", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", strings.TrimSpace(rec.Body.String()))
	})

	t.Run("ready", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodGet, "/ready", "")
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("not ready when index down", func(t *testing.T) {
		f := newFixture(t)
		f.store.pingErr = index.ErrUnavailable
		rec := f.do(t, http.MethodGet, "/ready", "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

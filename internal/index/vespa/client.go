// Package vespa implements index.Store against a Vespa cluster using the
// Document API v1 for feeding and the query endpoint for retrieval.
package vespa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aldin-datascience/tech-docs-rag/internal/index"
	"github.com/aldin-datascience/tech-docs-rag/internal/log"
)

const (
	// DefaultNamespace and DefaultSchema name the chunk collection. The feed
	// schema and the query construction below must agree with the deployed
	// Vespa application package.
	DefaultNamespace = "docsrag"
	DefaultSchema    = "chunks"

	// DefaultRanking is the rank profile evaluating query-embedding
	// similarity.
	DefaultRanking = "embedding_query"

	// listHits bounds the chunk-ID listing query. Documents are chunked in
	// the hundreds at most; this is far above any real chunk count.
	listHits = 1000
)

// Config configures a Client.
type Config struct {
	Host      string
	Port      int
	Timeout   time.Duration
	Namespace string // default: DefaultNamespace
	Schema    string // default: DefaultSchema
	Ranking   string // default: DefaultRanking
	// TargetHits is the default ANN target when a query leaves it unset.
	TargetHits int
}

// Client talks to a single Vespa endpoint. Safe for concurrent use.
type Client struct {
	baseURL    string
	namespace  string
	schema     string
	ranking    string
	targetHits int
	httpc      *http.Client
	logger     log.Logger
}

// New creates a Client from configuration.
func New(cfg Config, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Schema == "" {
		cfg.Schema = DefaultSchema
	}
	if cfg.Ranking == "" {
		cfg.Ranking = DefaultRanking
	}
	if cfg.TargetHits <= 0 {
		cfg.TargetHits = 50
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		namespace:  cfg.Namespace,
		schema:     cfg.Schema,
		ranking:    cfg.Ranking,
		targetHits: cfg.TargetHits,
		httpc:      &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// NewWithBaseURL creates a Client against an explicit endpoint URL.
// Used by tests running against httptest servers.
func NewWithBaseURL(baseURL string, logger log.Logger) *Client {
	c := New(Config{Host: "placeholder", Port: 1}, logger)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// recordFields is the indexed field layout of the chunks schema.
type recordFields struct {
	ChunkID    string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Source     string    `json:"source"`
	Title      string    `json:"title"`
	Heading    string    `json:"heading,omitempty"`
	Ordinal    int       `json:"ordinal"`
	ChunkText  string    `json:"chunk_text"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// Feed upserts records one document-api PUT at a time. Vespa PUTs are
// idempotent upserts, so refeeding an existing chunk ID replaces it.
func (c *Client) Feed(ctx context.Context, records []index.Record) error {
	for _, rec := range records {
		body, err := json.Marshal(map[string]any{
			"fields": recordFields{
				ChunkID:    rec.ChunkID,
				DocumentID: rec.DocumentID,
				Source:     rec.Source,
				Title:      rec.Title,
				Heading:    rec.Heading,
				Ordinal:    rec.Ordinal,
				ChunkText:  rec.Text,
				Embedding:  rec.Embedding,
			},
		})
		if err != nil {
			return fmt.Errorf("encoding record %q: %w", rec.ChunkID, err)
		}

		if err := c.documentRequest(ctx, http.MethodPost, rec.ChunkID, body); err != nil {
			return fmt.Errorf("feeding record %q: %w", rec.ChunkID, err)
		}
	}

	c.logger.Debug("fed records", "count", len(records))
	return nil
}

// Delete removes records by chunk ID. Vespa treats deleting a missing
// document as success, which matches the Store contract.
func (c *Client) Delete(ctx context.Context, chunkIDs []string) error {
	for _, id := range chunkIDs {
		if err := c.documentRequest(ctx, http.MethodDelete, id, nil); err != nil {
			return fmt.Errorf("deleting record %q: %w", id, err)
		}
	}
	return nil
}

// ChunkIDs lists indexed chunk IDs for a document in ordinal order.
func (c *Client) ChunkIDs(ctx context.Context, documentID string) ([]string, error) {
	yql := fmt.Sprintf("select chunk_id, ordinal from %s where document_id contains %s",
		c.schema, yqlString(documentID))

	hits, err := c.search(ctx, map[string]any{
		"yql":  yql,
		"hits": listHits,
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Fields.Ordinal < hits[j].Fields.Ordinal })
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.Fields.ChunkID
	}
	return ids, nil
}

// Search executes a nearestNeighbor query with optional metadata filters.
func (c *Client) Search(ctx context.Context, q index.Query) ([]index.ScoredRecord, error) {
	targetHits := q.TargetHits
	if targetHits <= 0 {
		targetHits = c.targetHits
	}

	var yql strings.Builder
	fmt.Fprintf(&yql, "select * from %s where ({targetHits: %d}nearestNeighbor(embedding, query_embedding))",
		c.schema, targetHits)
	for _, field := range sortedKeys(q.Filters) {
		fmt.Fprintf(&yql, " and %s contains %s", field, yqlString(q.Filters[field]))
	}

	body := map[string]any{
		"yql":     yql.String(),
		"hits":    q.TopK,
		"ranking": c.ranking,
		"ranking.features.query(query_embedding)": q.Embedding,
	}

	hits, err := c.search(ctx, body)
	if err != nil {
		return nil, err
	}

	results := make([]index.ScoredRecord, 0, len(hits))
	for _, h := range hits {
		results = append(results, index.ScoredRecord{
			Record: index.Record{
				ChunkID:    h.Fields.ChunkID,
				DocumentID: h.Fields.DocumentID,
				Source:     h.Fields.Source,
				Title:      h.Fields.Title,
				Heading:    h.Fields.Heading,
				Ordinal:    h.Fields.Ordinal,
				Text:       h.Fields.ChunkText,
			},
			Relevance: h.Relevance,
		})
	}
	return results, nil
}

// Ping checks cluster health via the state API.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/state/v1/health", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", index.ErrUnavailable, err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health endpoint returned %d", index.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// documentRequest issues a Document API v1 call for one record ID.
func (c *Client) documentRequest(ctx context.Context, method, id string, body []byte) error {
	url := fmt.Sprintf("%s/document/v1/%s/%s/docid/%s", c.baseURL, c.namespace, c.schema, id)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("building document request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", index.ErrUnavailable, err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: document api returned %d", index.ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("document api returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// searchHit mirrors the subset of the query response the client consumes.
type searchHit struct {
	Relevance float64      `json:"relevance"`
	Fields    recordFields `json:"fields"`
}

type searchResponse struct {
	Root struct {
		Children []searchHit `json:"children"`
		Errors   []struct {
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"root"`
}

// search posts a query body to the search endpoint and decodes hits.
func (c *Client) search(ctx context.Context, body map[string]any) ([]searchHit, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search/", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("building query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", index.ErrUnavailable, err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: query endpoint returned %d", index.ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("query endpoint returned %d: %s", resp.StatusCode, msg)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding query response: %w", err)
	}
	if len(decoded.Root.Errors) > 0 {
		return nil, fmt.Errorf("query failed: %s", decoded.Root.Errors[0].Message)
	}

	return decoded.Root.Children, nil
}

// yqlString quotes a value for YQL, escaping embedded quotes and backslashes.
func yqlString(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// sortedKeys returns map keys in stable order so generated YQL is
// deterministic.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// drainClose discards the remaining body so the connection can be reused.
func drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}

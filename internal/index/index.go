// Package index defines the capability contract between the pipeline and the
// external search engine. The engine's ranking internals are a black box;
// backends only have to honor the Store interface, so the engine is swappable
// without touching pipeline logic. Two backends ship with the repository:
// index/vespa (HTTP document and query API) and index/pgvector
// (PostgreSQL + pgvector).
package index

import (
	"context"
	"errors"
)

// Filterable metadata fields shared by all backends. The feeding schema and
// the query construction must agree on these names; they are the
// deployment-time contract between adapter and retriever.
const (
	FieldDocumentID = "document_id"
	FieldSource     = "source"
)

// ErrUnavailable reports that the store could not be reached or rejected the
// operation. Callers must not conflate it with an empty result set.
var ErrUnavailable = errors.New("index store unavailable")

// Record is the indexed representation of a chunk. The ingestion adapter is
// the only writer.
type Record struct {
	ChunkID    string
	DocumentID string
	Source     string
	Title      string
	Heading    string
	Ordinal    int
	Text       string
	Embedding  []float32
}

// Query is a similarity search request. Text is carried alongside the
// embedding for backends with lexical ranking profiles.
type Query struct {
	Text      string
	Embedding []float32
	TopK      int
	// TargetHits tunes approximate-nearest-neighbor recall on backends that
	// support it; backends without the notion ignore it.
	TargetHits int
	// Filters restrict results by exact metadata match (AND semantics).
	// Keys must be Field* constants.
	Filters map[string]string
}

// ScoredRecord is one search hit. Higher relevance scores sort first.
type ScoredRecord struct {
	Record    Record
	Relevance float64
}

// Store is the index capability used by ingestion and retrieval.
// Implementations must be safe for concurrent use.
type Store interface {
	// Feed upserts records. Feeding an existing chunk ID replaces it.
	Feed(ctx context.Context, records []Record) error

	// Delete removes single records by chunk ID. Missing IDs are not errors.
	Delete(ctx context.Context, chunkIDs []string) error

	// ChunkIDs lists the chunk IDs currently indexed for a document,
	// in ordinal order.
	ChunkIDs(ctx context.Context, documentID string) ([]string, error)

	// Search returns at most TopK scored records. An empty slice means no
	// matches; store failure is reported as an error wrapping ErrUnavailable.
	Search(ctx context.Context, q Query) ([]ScoredRecord, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}

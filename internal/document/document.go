// Package document defines the source material model and the chunking policy
// that turns documents into retrieval units.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Supported content types for ingestion.
const (
	ContentTypeMarkdown = "text/markdown"
	ContentTypePlain    = "text/plain"
)

// Document is an immutable unit of source material. Re-ingesting the same
// Source produces the same ID, so updated content supersedes the previous
// chunk set instead of accumulating next to it.
type Document struct {
	ID          string
	Source      string // origin path or URL
	Title       string
	ContentType string
	Text        string
	ModifiedAt  time.Time
}

// Chunk is a bounded slice of a document's text, the atomic retrieval unit.
// Ordinal ordering reconstructs the original document order. Chunk IDs are
// derived from the parent document, ordinal and text, so an unchanged
// re-ingest yields byte-identical IDs.
type Chunk struct {
	ID         string
	DocumentID string
	Ordinal    int
	Heading    string // nearest enclosing markdown heading, if any
	Text       string
}

// New creates a Document with a deterministic ID derived from its source.
func New(source, title, contentType, text string, modifiedAt time.Time) Document {
	return Document{
		ID:          DocumentID(source),
		Source:      source,
		Title:       title,
		ContentType: contentType,
		Text:        text,
		ModifiedAt:  modifiedAt,
	}
}

// DocumentID derives the stable document identifier for a source.
func DocumentID(source string) string {
	sum := sha256.Sum256([]byte(source))
	return "doc_" + hex.EncodeToString(sum[:16])
}

// ChunkID derives the deterministic identifier for a chunk of a document.
func ChunkID(documentID string, ordinal int, text string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s-%d-%s", documentID, ordinal, text))
	return "chunk_" + hex.EncodeToString(sum[:16])
}

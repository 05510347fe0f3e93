// Package ingest turns documents into embedded chunks and keeps the search
// index in sync with them.
//
// Re-ingesting a changed document supersedes its previous version: new
// chunks are fed before stale ones are deleted, so concurrent searches see
// either the old version, the new one, or briefly both, but never neither.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/aldin-datascience/tech-docs-rag/internal/document"
	"github.com/aldin-datascience/tech-docs-rag/internal/index"
	"github.com/aldin-datascience/tech-docs-rag/internal/log"
	"github.com/aldin-datascience/tech-docs-rag/internal/retry"
)

var (
	// ErrEmptyDocument is returned when a document has no text to index.
	ErrEmptyDocument = errors.New("ingest: document has no content")

	// ErrMissingSource is returned when a document has no source identity.
	ErrMissingSource = errors.New("ingest: document source is required")
)

const (
	// defaultEmbedBatch is the number of chunk texts sent per embedding
	// request.
	defaultEmbedBatch = 64

	// defaultConcurrency bounds parallel embedding requests per document.
	defaultConcurrency = 4
)

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Result reports what one ingestion changed.
type Result struct {
	DocumentID    string
	ChunksIndexed int
	ChunksRemoved int
	Unchanged     bool
}

// Options tune an Ingestor. Zero values fall back to defaults.
type Options struct {
	EmbedBatch  int
	Concurrency int
	Retry       retry.Config
}

// Ingestor coordinates splitting, embedding and index writes. Safe for
// concurrent use.
type Ingestor struct {
	splitter    *document.Splitter
	embedder    Embedder
	store       index.Store
	retryCfg    retry.Config
	embedBatch  int
	concurrency int
	logger      log.Logger
}

// New creates an Ingestor.
func New(splitter *document.Splitter, embedder Embedder, store index.Store, opts Options, logger log.Logger) *Ingestor {
	if logger == nil {
		logger = log.NewNop()
	}
	if opts.EmbedBatch <= 0 {
		opts.EmbedBatch = defaultEmbedBatch
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialInterval == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	return &Ingestor{
		splitter:    splitter,
		embedder:    embedder,
		store:       store,
		retryCfg:    opts.Retry,
		embedBatch:  opts.EmbedBatch,
		concurrency: opts.Concurrency,
		logger:      logger,
	}
}

// Ingest indexes one document, superseding any previously indexed version
// of the same source.
//
// Chunk IDs are content hashes, so an unchanged document is recognized by
// its chunk-ID set and skipped without calling the embedder.
func (ing *Ingestor) Ingest(ctx context.Context, doc document.Document) (Result, error) {
	if doc.Source == "" {
		return Result{}, ErrMissingSource
	}
	if doc.Text == "" {
		return Result{}, ErrEmptyDocument
	}
	if doc.ID == "" {
		doc.ID = document.DocumentID(doc.Source)
	}

	chunks := ing.splitter.Split(doc)
	if len(chunks) == 0 {
		return Result{}, ErrEmptyDocument
	}

	existing, err := ing.listExisting(ctx, doc.ID)
	if err != nil {
		return Result{}, fmt.Errorf("listing existing chunks for %q: %w", doc.Source, err)
	}

	newIDs := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		newIDs[c.ID] = true
	}
	if sameSet(existing, newIDs) {
		ing.logger.Debug("document unchanged, skipping",
			"document_id", doc.ID, "chunks", len(chunks))
		return Result{DocumentID: doc.ID, ChunksIndexed: len(chunks), Unchanged: true}, nil
	}

	records, err := ing.embedChunks(ctx, doc, chunks)
	if err != nil {
		return Result{}, fmt.Errorf("embedding document %q: %w", doc.Source, err)
	}

	if err := ing.feed(ctx, records, existing); err != nil {
		return Result{}, fmt.Errorf("feeding document %q: %w", doc.Source, err)
	}

	// New version is fully visible; now drop chunks the new version no
	// longer produces.
	var stale []string
	for _, id := range existing {
		if !newIDs[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := ing.delete(ctx, stale); err != nil {
			// The new version is indexed; leftover stale chunks are a
			// cleanup problem, not a lost update.
			return Result{}, fmt.Errorf("removing superseded chunks of %q: %w", doc.Source, err)
		}
	}

	ing.logger.Info("document ingested",
		"document_id", doc.ID,
		"source", doc.Source,
		"chunks", len(records),
		"superseded", len(stale))

	return Result{DocumentID: doc.ID, ChunksIndexed: len(records), ChunksRemoved: len(stale)}, nil
}

// Remove deletes every indexed chunk of a document. Removing an unknown
// document succeeds with zero chunks removed.
func (ing *Ingestor) Remove(ctx context.Context, documentID string) (Result, error) {
	existing, err := ing.listExisting(ctx, documentID)
	if err != nil {
		return Result{}, fmt.Errorf("listing chunks for %q: %w", documentID, err)
	}
	if len(existing) == 0 {
		return Result{DocumentID: documentID}, nil
	}
	if err := ing.delete(ctx, existing); err != nil {
		return Result{}, fmt.Errorf("removing document %q: %w", documentID, err)
	}

	ing.logger.Info("document removed", "document_id", documentID, "chunks", len(existing))
	return Result{DocumentID: documentID, ChunksRemoved: len(existing)}, nil
}

// embedChunks embeds chunk texts in batches with bounded parallelism and
// assembles index records in chunk order.
func (ing *Ingestor) embedChunks(ctx context.Context, doc document.Document, chunks []document.Chunk) ([]index.Record, error) {
	records := make([]index.Record, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.concurrency)

	for start := 0; start < len(chunks); start += ing.embedBatch {
		end := min(start+ing.embedBatch, len(chunks))
		batch := chunks[start:end]
		offset := start

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}

			vectors, err := retry.DoValue(gctx, ing.retryCfg, nil,
				func(ctx context.Context) ([][]float32, error) {
					return ing.embedder.EmbedBatch(ctx, texts)
				})
			if err != nil {
				return err
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
			}

			for i, c := range batch {
				records[offset+i] = index.Record{
					ChunkID:    c.ID,
					DocumentID: c.DocumentID,
					Source:     doc.Source,
					Title:      doc.Title,
					Heading:    c.Heading,
					Ordinal:    c.Ordinal,
					Text:       c.Text,
					Embedding:  vectors[i],
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// feed writes records with retry on index unavailability. If the feed gives
// up partway, chunks that were not part of the previous version are deleted
// so the index is left on the old version rather than a mix.
func (ing *Ingestor) feed(ctx context.Context, records []index.Record, existing []string) error {
	err := retry.Do(ctx, ing.retryCfg, indexRetryable, func(ctx context.Context) error {
		return ing.store.Feed(ctx, records)
	})
	if err == nil {
		return nil
	}

	was := make(map[string]bool, len(existing))
	for _, id := range existing {
		was[id] = true
	}
	var added []string
	for _, rec := range records {
		if !was[rec.ChunkID] {
			added = append(added, rec.ChunkID)
		}
	}
	if len(added) > 0 {
		// Best effort: the feed itself may have failed before writing any
		// of these.
		rollbackCtx := context.WithoutCancel(ctx)
		if rbErr := ing.store.Delete(rollbackCtx, added); rbErr != nil {
			ing.logger.Warn("rollback of partial feed failed",
				"chunks", len(added), "error", rbErr)
		}
	}
	return err
}

func (ing *Ingestor) delete(ctx context.Context, chunkIDs []string) error {
	return retry.Do(ctx, ing.retryCfg, indexRetryable, func(ctx context.Context) error {
		return ing.store.Delete(ctx, chunkIDs)
	})
}

func (ing *Ingestor) listExisting(ctx context.Context, documentID string) ([]string, error) {
	return retry.DoValue(ctx, ing.retryCfg, indexRetryable, func(ctx context.Context) ([]string, error) {
		return ing.store.ChunkIDs(ctx, documentID)
	})
}

// indexRetryable retries only on index unavailability; malformed requests
// fail immediately.
func indexRetryable(err error) bool {
	return errors.Is(err, index.ErrUnavailable)
}

func sameSet(existing []string, ids map[string]bool) bool {
	if len(existing) != len(ids) {
		return false
	}
	for _, id := range existing {
		if !ids[id] {
			return false
		}
	}
	return true
}

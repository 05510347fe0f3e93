// Package retrieve finds the chunks most relevant to a query.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aldin-datascience/tech-docs-rag/internal/index"
	"github.com/aldin-datascience/tech-docs-rag/internal/log"
	"github.com/aldin-datascience/tech-docs-rag/internal/retry"
)

// ErrEmptyQuery is returned when the query text is blank.
var ErrEmptyQuery = errors.New("retrieve: query is empty")

// Embedder produces the query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options tune a Retriever.
type Options struct {
	// TopK is the maximum number of chunks returned.
	TopK int
	// TargetHits is the ANN candidate pool the index should consider.
	TargetHits int
	Retry      retry.Config
}

// Retriever embeds queries and searches the index. Safe for concurrent use.
type Retriever struct {
	embedder   Embedder
	store      index.Store
	topK       int
	targetHits int
	retryCfg   retry.Config
	logger     log.Logger
}

// New creates a Retriever.
func New(embedder Embedder, store index.Store, opts Options, logger log.Logger) *Retriever {
	if logger == nil {
		logger = log.NewNop()
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.TargetHits <= 0 {
		opts.TargetHits = 50
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialInterval == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	return &Retriever{
		embedder:   embedder,
		store:      store,
		topK:       opts.TopK,
		targetHits: opts.TargetHits,
		retryCfg:   opts.Retry,
		logger:     logger,
	}
}

// Retrieve returns up to k chunks ranked by relevance; k <= 0 falls back to
// the configured TopK. Ties are broken by chunk ID so identical inputs
// always produce identical orderings.
//
// An empty result is not an error: it means the index answered and nothing
// matched. Errors mean the question of relevance went unanswered.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, filters map[string]string) ([]index.ScoredRecord, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = r.topK
	}

	embedding, err := retry.DoValue(ctx, r.retryCfg, nil, func(ctx context.Context) ([]float32, error) {
		return r.embedder.Embed(ctx, query)
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := retry.DoValue(ctx, r.retryCfg,
		func(err error) bool { return errors.Is(err, index.ErrUnavailable) },
		func(ctx context.Context) ([]index.ScoredRecord, error) {
			return r.store.Search(ctx, index.Query{
				Text:       query,
				Embedding:  embedding,
				TopK:       k,
				TargetHits: r.targetHits,
				Filters:    filters,
			})
		})
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Relevance != results[j].Relevance {
			return results[i].Relevance > results[j].Relevance
		}
		return results[i].Record.ChunkID < results[j].Record.ChunkID
	})
	if len(results) > k {
		results = results[:k]
	}

	r.logger.Debug("retrieved chunks", "query_len", len(query), "results", len(results))
	return results, nil
}

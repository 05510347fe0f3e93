package pgvector

import (
	"context"
	"math"
	"testing"

	"github.com/aldin-datascience/tech-docs-rag/internal/index"
	"github.com/aldin-datascience/tech-docs-rag/internal/log"
	"github.com/aldin-datascience/tech-docs-rag/internal/testutil"
)

const dims = 3072

// axisVector returns a unit vector along one axis so cosine distances in
// tests are exact.
func axisVector(axis int) []float32 {
	v := make([]float32, dims)
	v[axis] = 1
	return v
}

// blendVector leans toward one axis with a small component on another,
// giving a known similarity ordering.
func blendVector(major, minor int, weight float64) []float32 {
	v := make([]float32, dims)
	v[major] = float32(math.Sqrt(1 - weight*weight))
	v[minor] = float32(weight)
	return v
}

func seedRecords() []index.Record {
	return []index.Record{
		{
			ChunkID: "chunk_a0", DocumentID: "doc_a", Source: "docs/install.md",
			Title: "Install Guide", Heading: "Install", Ordinal: 0,
			Text: "Download the package.", Embedding: axisVector(0),
		},
		{
			ChunkID: "chunk_a1", DocumentID: "doc_a", Source: "docs/install.md",
			Title: "Install Guide", Heading: "Verify", Ordinal: 1,
			Text: "Check the version.", Embedding: blendVector(0, 1, 0.3),
		},
		{
			ChunkID: "chunk_b0", DocumentID: "doc_b", Source: "docs/query.md",
			Title: "Query Guide", Ordinal: 0,
			Text: "Write a query.", Embedding: axisVector(1),
		},
	}
}

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pg := testutil.StartPostgres(t)
	store := New(pg.Pool, log.NewNop())
	ctx := context.Background()

	if err := store.Feed(ctx, seedRecords()); err != nil {
		t.Fatalf("Feed() error = %v", err)
	}

	t.Run("search orders by similarity", func(t *testing.T) {
		results, err := store.Search(ctx, index.Query{Embedding: axisVector(0), TopK: 3})
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("results = %d, want 3", len(results))
		}
		if results[0].Record.ChunkID != "chunk_a0" || results[1].Record.ChunkID != "chunk_a1" {
			t.Errorf("order = [%s %s %s]", results[0].Record.ChunkID,
				results[1].Record.ChunkID, results[2].Record.ChunkID)
		}
		if results[0].Relevance < results[1].Relevance || results[1].Relevance < results[2].Relevance {
			t.Errorf("relevance not descending: %v %v %v",
				results[0].Relevance, results[1].Relevance, results[2].Relevance)
		}
	})

	t.Run("source filter restricts results", func(t *testing.T) {
		results, err := store.Search(ctx, index.Query{
			Embedding: axisVector(1),
			TopK:      3,
			Filters:   map[string]string{index.FieldSource: "docs/install.md"},
		})
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		for _, r := range results {
			if r.Record.Source != "docs/install.md" {
				t.Errorf("got record from %q", r.Record.Source)
			}
		}
	})

	t.Run("unknown filter field rejected", func(t *testing.T) {
		_, err := store.Search(ctx, index.Query{
			Embedding: axisVector(0), TopK: 1,
			Filters: map[string]string{"chunk_text": "x"},
		})
		if err == nil {
			t.Fatal("Search() with unknown filter field: want error")
		}
	})

	t.Run("refeed is idempotent upsert", func(t *testing.T) {
		recs := seedRecords()
		recs[0].Text = "Download the latest package."
		if err := store.Feed(ctx, recs[:1]); err != nil {
			t.Fatalf("Feed() error = %v", err)
		}

		results, err := store.Search(ctx, index.Query{Embedding: axisVector(0), TopK: 1})
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if results[0].Record.Text != "Download the latest package." {
			t.Errorf("text = %q, want updated text", results[0].Record.Text)
		}

		ids, err := store.ChunkIDs(ctx, "doc_a")
		if err != nil {
			t.Fatalf("ChunkIDs() error = %v", err)
		}
		if len(ids) != 2 {
			t.Errorf("doc_a chunk count = %d, want 2", len(ids))
		}
	})

	t.Run("chunk ids ordered by ordinal", func(t *testing.T) {
		ids, err := store.ChunkIDs(ctx, "doc_a")
		if err != nil {
			t.Fatalf("ChunkIDs() error = %v", err)
		}
		if len(ids) != 2 || ids[0] != "chunk_a0" || ids[1] != "chunk_a1" {
			t.Errorf("ids = %v", ids)
		}
	})

	t.Run("delete removes records", func(t *testing.T) {
		if err := store.Delete(ctx, []string{"chunk_b0"}); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		ids, err := store.ChunkIDs(ctx, "doc_b")
		if err != nil {
			t.Fatalf("ChunkIDs() error = %v", err)
		}
		if len(ids) != 0 {
			t.Errorf("doc_b ids after delete = %v", ids)
		}
		// Deleting an already-missing ID succeeds.
		if err := store.Delete(ctx, []string{"chunk_b0"}); err != nil {
			t.Fatalf("Delete() of missing id error = %v", err)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := store.Ping(ctx); err != nil {
			t.Fatalf("Ping() error = %v", err)
		}
	})
}

// Package pgvector implements index.Store on PostgreSQL with the pgvector
// extension. It is the backend of choice when a Vespa cluster is not worth
// operating.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"

	"github.com/aldin-datascience/tech-docs-rag/internal/index"
	"github.com/aldin-datascience/tech-docs-rag/internal/log"
)

// filterColumns whitelists the metadata fields a query may restrict on.
// Anything else would splice attacker-controlled column names into SQL.
var filterColumns = map[string]bool{
	index.FieldDocumentID: true,
	index.FieldSource:     true,
}

// Store executes chunk persistence and similarity search against a pgx pool.
// Safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a Store over an existing connection pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Connect opens a pool for the given URL and verifies connectivity.
func Connect(ctx context.Context, databaseURL string, logger log.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", index.ErrUnavailable, err)
	}
	return New(pool, logger), nil
}

// Close releases the underlying pool.
func (s *Store) Close() { s.pool.Close() }

// Feed upserts records in a single batch. ON CONFLICT replaces the row, so
// refeeding a chunk ID is idempotent.
func (s *Store) Feed(ctx context.Context, records []index.Record) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO chunks (chunk_id, document_id, source, title, heading, ordinal, chunk_text, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (chunk_id) DO UPDATE SET
				document_id = EXCLUDED.document_id,
				source      = EXCLUDED.source,
				title       = EXCLUDED.title,
				heading     = EXCLUDED.heading,
				ordinal     = EXCLUDED.ordinal,
				chunk_text  = EXCLUDED.chunk_text,
				embedding   = EXCLUDED.embedding`,
			rec.ChunkID, rec.DocumentID, rec.Source, rec.Title, rec.Heading,
			rec.Ordinal, rec.Text, pgv.NewVector(rec.Embedding),
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := range records {
		if _, err := results.Exec(); err != nil {
			return classify(fmt.Errorf("upserting record %q: %w", records[i].ChunkID, err))
		}
	}

	s.logger.Debug("fed records", "count", len(records))
	return nil
}

// Delete removes records by chunk ID. Missing IDs are not an error.
func (s *Store) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE chunk_id = ANY($1)`, chunkIDs)
	if err != nil {
		return classify(fmt.Errorf("deleting records: %w", err))
	}
	return nil
}

// ChunkIDs lists indexed chunk IDs for a document in ordinal order.
func (s *Store) ChunkIDs(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT chunk_id FROM chunks WHERE document_id = $1 ORDER BY ordinal`, documentID)
	if err != nil {
		return nil, classify(fmt.Errorf("listing chunk ids: %w", err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("listing chunk ids: %w", err))
	}
	return ids, nil
}

// Search runs cosine-similarity retrieval. Relevance is 1 - cosine distance,
// so it increases with similarity like the Vespa backend's scores.
func (s *Store) Search(ctx context.Context, q index.Query) ([]index.ScoredRecord, error) {
	if q.TopK <= 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT chunk_id, document_id, source, title, heading, ordinal, chunk_text,
		       1 - (embedding <=> $1) AS relevance
		FROM chunks`)

	args := []any{pgv.NewVector(q.Embedding)}
	conds := make([]string, 0, len(q.Filters))
	for _, field := range sortedKeys(q.Filters) {
		if !filterColumns[field] {
			return nil, fmt.Errorf("unsupported filter field %q", field)
		}
		args = append(args, q.Filters[field])
		conds = append(conds, fmt.Sprintf("%s = $%d", field, len(args)))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	args = append(args, q.TopK)
	fmt.Fprintf(&sb, " ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, classify(fmt.Errorf("searching chunks: %w", err))
	}
	defer rows.Close()

	var results []index.ScoredRecord
	for rows.Next() {
		var r index.ScoredRecord
		if err := rows.Scan(&r.Record.ChunkID, &r.Record.DocumentID, &r.Record.Source,
			&r.Record.Title, &r.Record.Heading, &r.Record.Ordinal, &r.Record.Text,
			&r.Relevance); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("searching chunks: %w", err))
	}
	return results, nil
}

// Ping verifies connectivity for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", index.ErrUnavailable, err)
	}
	return nil
}

// classify tags connectivity failures with ErrUnavailable so callers can
// distinguish a down database from a bad query.
func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "conn closed"),
		strings.Contains(err.Error(), "closed pool"):
		return fmt.Errorf("%w: %v", index.ErrUnavailable, err)
	default:
		return err
	}
}

// sortedKeys keeps generated SQL deterministic across runs.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package app wires configuration into a running pipeline. It is the single
// place that knows how every component connects.
package app

import (
	"context"
	"fmt"

	"github.com/aldin-datascience/tech-docs-rag/db"
	"github.com/aldin-datascience/tech-docs-rag/internal/answer"
	"github.com/aldin-datascience/tech-docs-rag/internal/config"
	"github.com/aldin-datascience/tech-docs-rag/internal/document"
	"github.com/aldin-datascience/tech-docs-rag/internal/index"
	"github.com/aldin-datascience/tech-docs-rag/internal/index/pgvector"
	"github.com/aldin-datascience/tech-docs-rag/internal/index/vespa"
	"github.com/aldin-datascience/tech-docs-rag/internal/ingest"
	"github.com/aldin-datascience/tech-docs-rag/internal/llm"
	"github.com/aldin-datascience/tech-docs-rag/internal/log"
	"github.com/aldin-datascience/tech-docs-rag/internal/pipeline"
	"github.com/aldin-datascience/tech-docs-rag/internal/prompt"
	"github.com/aldin-datascience/tech-docs-rag/internal/retrieve"
	"github.com/aldin-datascience/tech-docs-rag/internal/session"
)

// App holds the assembled components and their teardown.
type App struct {
	Config       *config.Config
	Logger       log.Logger
	Store        index.Store
	Sessions     *session.Manager
	Orchestrator *pipeline.Orchestrator

	closers []func()
}

// New builds the full pipeline from configuration. Call Close when done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	a := &App{Config: cfg, Logger: logger}

	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = store

	client := llm.New(cfg.OpenAI, logger)

	splitter, err := document.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("building splitter: %w", err)
	}

	ingestor := ingest.New(splitter, client, store, ingest.Options{
		Concurrency: cfg.Ingest.Parallelism,
	}, logger)

	retriever := retrieve.New(client, store, retrieve.Options{
		TopK:       cfg.Retrieval.TopK,
		TargetHits: cfg.Retrieval.TargetHits,
	}, logger)

	assembler := prompt.NewAssembler(
		prompt.NewCounter(cfg.OpenAI.ChatModel),
		cfg.Context.BudgetTokens,
		logger)

	generator := answer.New(client, answer.Options{}, logger)

	a.Sessions = session.NewManager(session.Options{
		IdleTimeout:  cfg.Session.IdleTimeout,
		HistoryLimit: cfg.Session.MaxTurns,
	}, logger)
	a.closers = append(a.closers, a.Sessions.Stop)

	var rewriter session.Rewriter = session.TemplateRewriter{}
	if cfg.Session.Rewriter == config.RewriterLLM {
		rewriter = session.NewLLMRewriter(client, logger)
	}

	a.Orchestrator = pipeline.New(
		rewriter,
		retriever,
		assembler,
		generator,
		a.Sessions,
		ingestor,
		pipeline.Options{
			RequestTimeout:     cfg.Pipeline.RequestTimeout,
			RewriteTimeout:     cfg.Pipeline.RewriteTimeout,
			RetrieveTimeout:    cfg.Pipeline.RetrieveTimeout,
			GenerateTimeout:    cfg.Pipeline.GenerateTimeout,
			FallbackUngrounded: cfg.Pipeline.FallbackUngrounded,
		},
		logger)

	return a, nil
}

// Close tears components down in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// buildStore selects the index backend. The pgvector path also applies
// pending schema migrations.
func (a *App) buildStore(ctx context.Context) (index.Store, error) {
	cfg := a.Config
	switch cfg.Index.Backend {
	case config.BackendVespa:
		return vespa.New(vespa.Config{
			Host:       cfg.Index.VespaHost,
			Port:       cfg.Index.VespaPort,
			Timeout:    cfg.Index.VespaTimeout,
			Ranking:    cfg.Retrieval.Ranking,
			TargetHits: cfg.Retrieval.TargetHits,
		}, a.Logger), nil

	case config.BackendPgvector:
		if err := db.Migrate(cfg.Index.PostgresURL, a.Logger); err != nil {
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		store, err := pgvector.Connect(ctx, cfg.Index.PostgresURL, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidBackend, cfg.Index.Backend)
	}
}

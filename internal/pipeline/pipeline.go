// Package pipeline orchestrates one question through rewrite, retrieval,
// assembly and generation, and keeps the conversation record.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/aldin-datascience/tech-docs-rag/internal/answer"
	"github.com/aldin-datascience/tech-docs-rag/internal/document"
	"github.com/aldin-datascience/tech-docs-rag/internal/index"
	"github.com/aldin-datascience/tech-docs-rag/internal/ingest"
	"github.com/aldin-datascience/tech-docs-rag/internal/llm"
	"github.com/aldin-datascience/tech-docs-rag/internal/log"
	"github.com/aldin-datascience/tech-docs-rag/internal/prompt"
	"github.com/aldin-datascience/tech-docs-rag/internal/session"
)

// Retriever finds up to k relevant chunks for a query; k <= 0 means the
// retriever's configured default.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, filters map[string]string) ([]index.ScoredRecord, error)
}

// Assembler packs ranked chunks into an augmented prompt.
type Assembler interface {
	Assemble(results []index.ScoredRecord) (prompt.AugmentedPrompt, error)
}

// Generator produces the final answer.
type Generator interface {
	Generate(ctx context.Context, question string, p prompt.AugmentedPrompt, history []llm.Message) (answer.Answer, error)
}

// Sessions is the conversation record.
type Sessions interface {
	History(sessionID string) []session.Turn
	AddTurn(sessionID string, turn session.Turn)
}

// Ingestor maintains the index contents.
type Ingestor interface {
	Ingest(ctx context.Context, doc document.Document) (ingest.Result, error)
	Remove(ctx context.Context, documentID string) (ingest.Result, error)
}

// Response is one answered question.
type Response struct {
	SessionID string
	Answer    string
	Citations []string
	Grounded  bool
}

// Options tune the Orchestrator. A zero timeout disables that deadline.
type Options struct {
	// RequestTimeout bounds one Ask call end to end.
	RequestTimeout time.Duration

	RewriteTimeout  time.Duration
	RetrieveTimeout time.Duration
	GenerateTimeout time.Duration

	// FallbackUngrounded answers without context when retrieval fails or
	// nothing fits the budget, flagging the response ungrounded, instead of
	// failing the request.
	FallbackUngrounded bool
}

// Orchestrator wires the stages together. Safe for concurrent use.
type Orchestrator struct {
	rewriter  session.Rewriter
	retriever Retriever
	assembler Assembler
	generator Generator
	sessions  Sessions
	ingestor  Ingestor
	opts      Options
	logger    log.Logger
}

// New creates an Orchestrator.
func New(
	rewriter session.Rewriter,
	retriever Retriever,
	assembler Assembler,
	generator Generator,
	sessions Sessions,
	ingestor Ingestor,
	opts Options,
	logger log.Logger,
) *Orchestrator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Orchestrator{
		rewriter:  rewriter,
		retriever: retriever,
		assembler: assembler,
		generator: generator,
		sessions:  sessions,
		ingestor:  ingestor,
		opts:      opts,
		logger:    logger,
	}
}

// Ask answers one question within a session. An empty session ID starts a
// new conversation. The turn is recorded only after a successful answer, so
// failed requests leave the conversation unchanged.
func (o *Orchestrator) Ask(ctx context.Context, sessionID, question string) (Response, error) {
	if question == "" {
		return Response{}, newError(CodeInvalidRequest, errors.New("question is required"))
	}
	if sessionID == "" {
		sessionID = session.NewID()
	}

	ctx, cancel := stageContext(ctx, o.opts.RequestTimeout)
	defer cancel()

	history := o.sessions.History(sessionID)

	query := o.rewriteQuery(ctx, history, question)

	results, err := o.retrieveStage(ctx, query)
	if err != nil {
		if !o.opts.FallbackUngrounded {
			return Response{}, newError(CodeRetrievalFailed, err)
		}
		o.logger.Warn("retrieval failed, answering ungrounded",
			"session_id", sessionID, "error", err)
		results = nil
	}

	p, err := o.assembler.Assemble(results)
	if err != nil {
		if !errors.Is(err, prompt.ErrBudgetExceeded) || !o.opts.FallbackUngrounded {
			return Response{}, newError(CodeBudgetExceeded, err)
		}
		o.logger.Warn("no chunk fit the budget, answering ungrounded",
			"session_id", sessionID)
		p = prompt.AugmentedPrompt{}
	}

	ans, err := o.generateStage(ctx, question, p, history)
	if err != nil {
		return Response{}, newError(CodeGenerationFailed, err)
	}

	o.sessions.AddTurn(sessionID, session.Turn{
		Question:  question,
		Answer:    ans.Text,
		ChunkIDs:  ans.Citations,
		Timestamp: time.Now(),
	})

	o.logger.Info("question answered",
		"session_id", sessionID,
		"grounded", ans.Grounded,
		"citations", len(ans.Citations))

	return Response{
		SessionID: sessionID,
		Answer:    ans.Text,
		Citations: ans.Citations,
		Grounded:  ans.Grounded,
	}, nil
}

// IngestDocument indexes one document, mapping failures onto the stable
// error taxonomy.
func (o *Orchestrator) IngestDocument(ctx context.Context, doc document.Document) (ingest.Result, error) {
	res, err := o.ingestor.Ingest(ctx, doc)
	if err != nil {
		if errors.Is(err, ingest.ErrEmptyDocument) || errors.Is(err, ingest.ErrMissingSource) {
			return ingest.Result{}, newError(CodeInvalidRequest, err)
		}
		return ingest.Result{}, newError(CodeIngestionFailed, err)
	}
	return res, nil
}

// RemoveDocument deletes a document from the index.
func (o *Orchestrator) RemoveDocument(ctx context.Context, documentID string) (ingest.Result, error) {
	if documentID == "" {
		return ingest.Result{}, newError(CodeInvalidRequest, errors.New("document id is required"))
	}
	res, err := o.ingestor.Remove(ctx, documentID)
	if err != nil {
		return ingest.Result{}, newError(CodeIngestionFailed, err)
	}
	return res, nil
}

// rewriteQuery produces the retrieval query. A rewrite failure falls back to
// the raw question rather than failing the request.
func (o *Orchestrator) rewriteQuery(ctx context.Context, history []session.Turn, question string) string {
	ctx, cancel := stageContext(ctx, o.opts.RewriteTimeout)
	defer cancel()

	query, err := o.rewriter.Rewrite(ctx, history, question)
	if err != nil || query == "" {
		o.logger.Warn("query rewrite failed, using raw question", "error", err)
		return question
	}
	return query
}

func (o *Orchestrator) retrieveStage(ctx context.Context, query string) ([]index.ScoredRecord, error) {
	ctx, cancel := stageContext(ctx, o.opts.RetrieveTimeout)
	defer cancel()
	return o.retriever.Retrieve(ctx, query, 0, nil)
}

func (o *Orchestrator) generateStage(ctx context.Context, question string, p prompt.AugmentedPrompt, history []session.Turn) (answer.Answer, error) {
	ctx, cancel := stageContext(ctx, o.opts.GenerateTimeout)
	defer cancel()
	return o.generator.Generate(ctx, question, p, historyMessages(history))
}

// historyMessages flattens recorded turns into chat messages, oldest first.
func historyMessages(history []session.Turn) []llm.Message {
	if len(history) == 0 {
		return nil
	}
	msgs := make([]llm.Message, 0, len(history)*2)
	for _, t := range history {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: t.Question},
			llm.Message{Role: llm.RoleAssistant, Content: t.Answer},
		)
	}
	return msgs
}

func stageContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

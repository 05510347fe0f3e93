package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/aldin-datascience/tech-docs-rag/internal/answer"
	"github.com/aldin-datascience/tech-docs-rag/internal/document"
	"github.com/aldin-datascience/tech-docs-rag/internal/index"
	"github.com/aldin-datascience/tech-docs-rag/internal/ingest"
	"github.com/aldin-datascience/tech-docs-rag/internal/llm"
	"github.com/aldin-datascience/tech-docs-rag/internal/prompt"
	"github.com/aldin-datascience/tech-docs-rag/internal/session"
)

type stubRetriever struct {
	results []index.ScoredRecord
	err     error
	got     string
}

func (s *stubRetriever) Retrieve(_ context.Context, query string, _ int, _ map[string]string) ([]index.ScoredRecord, error) {
	s.got = query
	return s.results, s.err
}

type stubAssembler struct {
	prompt prompt.AugmentedPrompt
	err    error
}

func (s *stubAssembler) Assemble([]index.ScoredRecord) (prompt.AugmentedPrompt, error) {
	return s.prompt, s.err
}

type stubGenerator struct {
	answer     answer.Answer
	err        error
	gotHistory []llm.Message
}

func (s *stubGenerator) Generate(_ context.Context, _ string, _ prompt.AugmentedPrompt, history []llm.Message) (answer.Answer, error) {
	s.gotHistory = history
	return s.answer, s.err
}

type memSessions struct {
	turns map[string][]session.Turn
}

func newMemSessions() *memSessions { return &memSessions{turns: map[string][]session.Turn{}} }

func (m *memSessions) History(id string) []session.Turn { return m.turns[id] }

func (m *memSessions) AddTurn(id string, t session.Turn) { m.turns[id] = append(m.turns[id], t) }

type stubIngestor struct {
	result ingest.Result
	err    error
}

func (s *stubIngestor) Ingest(context.Context, document.Document) (ingest.Result, error) {
	return s.result, s.err
}

func (s *stubIngestor) Remove(context.Context, string) (ingest.Result, error) {
	return s.result, s.err
}

func newOrchestrator(r *stubRetriever, a *stubAssembler, g *stubGenerator, s Sessions, opts Options) *Orchestrator {
	return New(session.TemplateRewriter{}, r, a, g, s, &stubIngestor{}, opts, nil)
}

func groundedAnswer() answer.Answer {
	return answer.Answer{Text: "Grounded reply.", Citations: []string{"chunk_a"}, Grounded: true}
}

func TestAsk_EmptyQuestion(t *testing.T) {
	o := newOrchestrator(&stubRetriever{}, &stubAssembler{}, &stubGenerator{}, newMemSessions(), Options{})
	_, err := o.Ask(context.Background(), "s1", "")
	if CodeOf(err) != CodeInvalidRequest {
		t.Fatalf("code = %q, want invalid_request", CodeOf(err))
	}
}

func TestAsk_AssignsSessionID(t *testing.T) {
	sessions := newMemSessions()
	o := newOrchestrator(&stubRetriever{}, &stubAssembler{}, &stubGenerator{answer: groundedAnswer()}, sessions, Options{})

	resp, err := o.Ask(context.Background(), "", "how do I install?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.SessionID == "" {
		t.Error("no session id assigned")
	}
	if len(sessions.turns[resp.SessionID]) != 1 {
		t.Error("turn not recorded under assigned id")
	}
}

func TestAsk_RecordsTurnOnSuccess(t *testing.T) {
	sessions := newMemSessions()
	o := newOrchestrator(&stubRetriever{}, &stubAssembler{}, &stubGenerator{answer: groundedAnswer()}, sessions, Options{})

	if _, err := o.Ask(context.Background(), "s1", "question one"); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	turns := sessions.turns["s1"]
	if len(turns) != 1 || turns[0].Question != "question one" || turns[0].Answer != "Grounded reply." {
		t.Errorf("turns = %+v", turns)
	}
	if len(turns[0].ChunkIDs) != 1 {
		t.Errorf("turn chunk ids = %v", turns[0].ChunkIDs)
	}
}

func TestAsk_FailureLeavesSessionUnchanged(t *testing.T) {
	sessions := newMemSessions()
	gen := &stubGenerator{err: answer.ErrGeneration}
	o := newOrchestrator(&stubRetriever{}, &stubAssembler{}, gen, sessions, Options{})

	_, err := o.Ask(context.Background(), "s1", "question")
	if CodeOf(err) != CodeGenerationFailed {
		t.Fatalf("code = %q, want generation_failed", CodeOf(err))
	}
	if len(sessions.turns["s1"]) != 0 {
		t.Error("failed request recorded a turn")
	}
}

func TestAsk_RewriteUsesHistory(t *testing.T) {
	sessions := newMemSessions()
	sessions.AddTurn("s1", session.Turn{Question: "how do I install?", Answer: "Run install.sh."})
	retriever := &stubRetriever{}
	o := newOrchestrator(retriever, &stubAssembler{}, &stubGenerator{answer: groundedAnswer()}, sessions, Options{})

	if _, err := o.Ask(context.Background(), "s1", "what does it do?"); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if retriever.got == "what does it do?" {
		t.Error("retrieval query not rewritten despite history")
	}
}

func TestAsk_HistoryThreadedToGenerator(t *testing.T) {
	sessions := newMemSessions()
	sessions.AddTurn("s1", session.Turn{Question: "q1", Answer: "a1"})
	gen := &stubGenerator{answer: groundedAnswer()}
	o := newOrchestrator(&stubRetriever{}, &stubAssembler{}, gen, sessions, Options{})

	if _, err := o.Ask(context.Background(), "s1", "q2"); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(gen.gotHistory) != 2 || gen.gotHistory[0].Content != "q1" || gen.gotHistory[1].Role != llm.RoleAssistant {
		t.Errorf("history = %+v", gen.gotHistory)
	}
}

func TestAsk_RetrievalFailure(t *testing.T) {
	retriever := &stubRetriever{err: errors.New("index down")}

	t.Run("hard failure by default", func(t *testing.T) {
		o := newOrchestrator(retriever, &stubAssembler{}, &stubGenerator{}, newMemSessions(), Options{})
		_, err := o.Ask(context.Background(), "s1", "question")
		if CodeOf(err) != CodeRetrievalFailed {
			t.Fatalf("code = %q, want retrieval_failed", CodeOf(err))
		}
	})

	t.Run("fallback answers ungrounded", func(t *testing.T) {
		gen := &stubGenerator{answer: answer.Answer{Text: "From general knowledge.", Grounded: false}}
		o := newOrchestrator(retriever, &stubAssembler{}, gen, newMemSessions(), Options{FallbackUngrounded: true})
		resp, err := o.Ask(context.Background(), "s1", "question")
		if err != nil {
			t.Fatalf("Ask() error = %v", err)
		}
		if resp.Grounded {
			t.Error("fallback answer reported Grounded")
		}
	})
}

func TestAsk_BudgetExceeded(t *testing.T) {
	asm := &stubAssembler{err: prompt.ErrBudgetExceeded}

	t.Run("hard failure by default", func(t *testing.T) {
		o := newOrchestrator(&stubRetriever{}, asm, &stubGenerator{}, newMemSessions(), Options{})
		_, err := o.Ask(context.Background(), "s1", "question")
		if CodeOf(err) != CodeBudgetExceeded {
			t.Fatalf("code = %q, want budget_exceeded", CodeOf(err))
		}
	})

	t.Run("fallback answers ungrounded", func(t *testing.T) {
		gen := &stubGenerator{answer: answer.Answer{Text: "Ungrounded.", Grounded: false}}
		o := newOrchestrator(&stubRetriever{}, asm, gen, newMemSessions(), Options{FallbackUngrounded: true})
		resp, err := o.Ask(context.Background(), "s1", "question")
		if err != nil {
			t.Fatalf("Ask() error = %v", err)
		}
		if resp.Grounded {
			t.Error("fallback answer reported Grounded")
		}
	})
}

func TestIngestDocument_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"empty document", ingest.ErrEmptyDocument, CodeInvalidRequest},
		{"missing source", ingest.ErrMissingSource, CodeInvalidRequest},
		{"index failure", index.ErrUnavailable, CodeIngestionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New(session.TemplateRewriter{}, &stubRetriever{}, &stubAssembler{}, &stubGenerator{},
				newMemSessions(), &stubIngestor{err: tt.err}, Options{}, nil)
			_, err := o.IngestDocument(context.Background(), document.Document{})
			if CodeOf(err) != tt.want {
				t.Errorf("code = %q, want %q", CodeOf(err), tt.want)
			}
		})
	}
}

func TestRemoveDocument_EmptyID(t *testing.T) {
	o := newOrchestrator(&stubRetriever{}, &stubAssembler{}, &stubGenerator{}, newMemSessions(), Options{})
	_, err := o.RemoveDocument(context.Background(), "")
	if CodeOf(err) != CodeInvalidRequest {
		t.Fatalf("code = %q, want invalid_request", CodeOf(err))
	}
}

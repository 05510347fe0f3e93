package answer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aldin-datascience/tech-docs-rag/internal/index"
	"github.com/aldin-datascience/tech-docs-rag/internal/llm"
	"github.com/aldin-datascience/tech-docs-rag/internal/prompt"
	"github.com/aldin-datascience/tech-docs-rag/internal/retry"
)

type stubCompleter struct {
	mu       sync.Mutex
	reply    string
	err      error
	failures int // fail this many calls before succeeding
	calls    int
	gotMsgs  []llm.Message
}

func (s *stubCompleter) Complete(_ context.Context, msgs []llm.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.gotMsgs = msgs
	if s.failures > 0 {
		s.failures--
		return "", errors.New("503 service unavailable")
	}
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func fastOptions() Options {
	return Options{
		Retry:   retry.Config{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		Breaker: BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: 10 * time.Millisecond},
	}
}

func groundedPrompt(t *testing.T) prompt.AugmentedPrompt {
	t.Helper()
	a := prompt.NewAssembler(prompt.EstimateCounter{}, 1000, nil)
	p, err := a.Assemble([]index.ScoredRecord{{
		Record: index.Record{
			ChunkID: "chunk_a", DocumentID: "doc_1", Source: "docs/install.md",
			Text: "Install by downloading the release tarball.",
		},
		Relevance: 0.9,
	}})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	return p
}

func TestGenerate_GroundedAnswer(t *testing.T) {
	completer := &stubCompleter{reply: "Download the release tarball."}
	g := New(completer, fastOptions(), nil)

	ans, err := g.Generate(context.Background(), "how do I install?", groundedPrompt(t), nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !ans.Grounded {
		t.Error("Grounded = false")
	}
	if len(ans.Citations) != 1 || ans.Citations[0] != "chunk_a" {
		t.Errorf("Citations = %v", ans.Citations)
	}

	msgs := completer.gotMsgs
	if msgs[0].Role != llm.RoleSystem || !strings.Contains(msgs[0].Content, "Technical Documentation AI Assistant") {
		t.Errorf("first message = %+v", msgs[0])
	}
	if !strings.Contains(msgs[1].Content, "docs/install.md") {
		t.Errorf("context message = %q", msgs[1].Content)
	}
	if last := msgs[len(msgs)-1]; last.Role != llm.RoleUser || last.Content != "how do I install?" {
		t.Errorf("last message = %+v", last)
	}
}

func TestGenerate_HistoryBetweenContextAndQuestion(t *testing.T) {
	completer := &stubCompleter{reply: "It unpacks the files."}
	g := New(completer, fastOptions(), nil)

	history := []llm.Message{
		{Role: llm.RoleUser, Content: "how do I install?"},
		{Role: llm.RoleAssistant, Content: "Download the tarball."},
	}
	if _, err := g.Generate(context.Background(), "what does it contain?", groundedPrompt(t), history); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	msgs := completer.gotMsgs
	if len(msgs) != 5 {
		t.Fatalf("messages = %d, want 5", len(msgs))
	}
	if msgs[2].Content != "how do I install?" || msgs[3].Role != llm.RoleAssistant {
		t.Errorf("history not threaded: %+v", msgs[2:4])
	}
}

func TestGenerate_RefusalIsUngrounded(t *testing.T) {
	completer := &stubCompleter{reply: RefusalText}
	g := New(completer, fastOptions(), nil)

	ans, err := g.Generate(context.Background(), "unrelated question", groundedPrompt(t), nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if ans.Grounded {
		t.Error("refusal reported Grounded")
	}
	if len(ans.Citations) != 0 {
		t.Errorf("refusal carries citations: %v", ans.Citations)
	}
}

func TestGenerate_EmptyContextIsUngrounded(t *testing.T) {
	completer := &stubCompleter{reply: "General knowledge answer."}
	g := New(completer, fastOptions(), nil)

	ans, err := g.Generate(context.Background(), "question", prompt.AugmentedPrompt{}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if ans.Grounded {
		t.Error("empty-context answer reported Grounded")
	}
}

func TestGenerate_RetriesTransientFailures(t *testing.T) {
	completer := &stubCompleter{reply: "Recovered.", failures: 2}
	g := New(completer, fastOptions(), nil)

	ans, err := g.Generate(context.Background(), "q", groundedPrompt(t), nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if ans.Text != "Recovered." || completer.calls != 3 {
		t.Errorf("text = %q, calls = %d", ans.Text, completer.calls)
	}
}

func TestGenerate_PersistentFailure(t *testing.T) {
	completer := &stubCompleter{failures: 100}
	g := New(completer, fastOptions(), nil)

	_, err := g.Generate(context.Background(), "q", groundedPrompt(t), nil)
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("error = %v, want ErrGeneration", err)
	}
}

func TestGenerate_BreakerOpensAndRecovers(t *testing.T) {
	completer := &stubCompleter{failures: 1000}
	g := New(completer, fastOptions(), nil)
	ctx := context.Background()
	p := groundedPrompt(t)

	// Two failed generations trip the breaker.
	for range 2 {
		if _, err := g.Generate(ctx, "q", p, nil); !errors.Is(err, ErrGeneration) {
			t.Fatalf("error = %v, want ErrGeneration", err)
		}
	}

	callsBefore := completer.calls
	if _, err := g.Generate(ctx, "q", p, nil); !errors.Is(err, ErrGeneration) {
		t.Fatalf("error = %v, want ErrGeneration while open", err)
	}
	if completer.calls != callsBefore {
		t.Error("open breaker still called the backend")
	}

	// After the timeout a probe goes through and closes the breaker.
	time.Sleep(15 * time.Millisecond)
	completer.mu.Lock()
	completer.failures = 0
	completer.reply = "Back up."
	completer.mu.Unlock()

	ans, err := g.Generate(ctx, "q", p, nil)
	if err != nil {
		t.Fatalf("Generate() after recovery error = %v", err)
	}
	if ans.Text != "Back up." {
		t.Errorf("text = %q", ans.Text)
	}
	if g.breaker.currentState() != circuitClosed {
		t.Errorf("breaker state = %v, want closed", g.breaker.currentState())
	}
}

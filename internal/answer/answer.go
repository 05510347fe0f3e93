// Package answer generates grounded answers from assembled context.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aldin-datascience/tech-docs-rag/internal/llm"
	"github.com/aldin-datascience/tech-docs-rag/internal/log"
	"github.com/aldin-datascience/tech-docs-rag/internal/prompt"
	"github.com/aldin-datascience/tech-docs-rag/internal/retry"
)

// ErrGeneration is returned when the chat backend persistently fails.
var ErrGeneration = errors.New("answer: generation failed")

// RefusalText is the phrase the model is instructed to answer with when the
// context does not cover the question.
const RefusalText = "I'm sorry, but I cannot answer that based on the given information."

// systemInstruction pins the model to the supplied context.
const systemInstruction = "You are a Technical Documentation AI Assistant. " +
	"Your role is to provide accurate and precise answers based on the provided context chunks if possible. " +
	"You are only allowed to discuss technical documentation and related questions. " +
	"If the requested information is not in the provided context, respond with " +
	"'" + RefusalText + "' " +
	"You must not make up answers. Here is the context and conversation history:"

// Completer issues one chat completion.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message) (string, error)
}

// Answer is a generated response with its provenance.
type Answer struct {
	Text      string
	Citations []string
	// Grounded is false when the answer was produced without context or
	// the model declined for lack of coverage.
	Grounded bool
}

// Options tune a Generator.
type Options struct {
	Retry   retry.Config
	Breaker BreakerConfig
}

// Generator produces answers through the chat backend. Safe for concurrent
// use.
type Generator struct {
	completer Completer
	breaker   *breaker
	retryCfg  retry.Config
	logger    log.Logger
}

// New creates a Generator.
func New(completer Completer, opts Options, logger log.Logger) *Generator {
	if logger == nil {
		logger = log.NewNop()
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialInterval == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	return &Generator{
		completer: completer,
		breaker:   newBreaker(opts.Breaker),
		retryCfg:  opts.Retry,
		logger:    logger,
	}
}

// Generate answers the question from the assembled context and conversation
// history. It mutates no state beyond the breaker: history recording is the
// caller's decision.
func (g *Generator) Generate(ctx context.Context, question string, p prompt.AugmentedPrompt, history []llm.Message) (Answer, error) {
	if err := g.breaker.allow(); err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	msgs := make([]llm.Message, 0, len(history)+4)
	msgs = append(msgs,
		llm.Message{Role: llm.RoleSystem, Content: systemInstruction},
		llm.Message{Role: llm.RoleSystem, Content: "Context chunks:\n\n" + p.Context()},
	)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: question})

	text, err := retry.DoValue(ctx, g.retryCfg, nil, func(ctx context.Context) (string, error) {
		return g.completer.Complete(ctx, msgs)
	})
	if err != nil {
		g.breaker.failure()
		g.logger.Warn("generation failed",
			"breaker_state", g.breaker.currentState().String(), "error", err)
		return Answer{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	g.breaker.success()

	text = strings.TrimSpace(text)
	grounded := p.Grounded() && !isRefusal(text)

	ans := Answer{Text: text, Grounded: grounded}
	if grounded {
		ans.Citations = p.ChunkIDs()
	}
	return ans, nil
}

// isRefusal detects the instructed decline phrase, tolerating minor
// punctuation drift around it.
func isRefusal(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	return strings.Contains(normalized, "cannot answer that based on the given information")
}

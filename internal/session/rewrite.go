package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/aldin-datascience/tech-docs-rag/internal/llm"
	"github.com/aldin-datascience/tech-docs-rag/internal/log"
)

// Rewriter turns a follow-up question into a standalone retrieval query
// using the conversation so far.
type Rewriter interface {
	Rewrite(ctx context.Context, history []Turn, question string) (string, error)
}

// recentTurns is how much history a rewrite considers.
const recentTurns = 3

// TemplateRewriter merges recent turns into the query without calling a
// model. Identical inputs always produce the identical query.
type TemplateRewriter struct{}

// Rewrite returns the question unchanged for a fresh conversation, and
// otherwise appends the recent exchanges so retrieval sees the referents a
// follow-up leaves implicit.
func (TemplateRewriter) Rewrite(_ context.Context, history []Turn, question string) (string, error) {
	if len(history) == 0 {
		return question, nil
	}
	if len(history) > recentTurns {
		history = history[len(history)-recentTurns:]
	}

	var sb strings.Builder
	sb.WriteString(question)
	sb.WriteString("\n\nConversation context:")
	for _, t := range history {
		fmt.Fprintf(&sb, "\nQ: %s\nA: %s", t.Question, t.Answer)
	}
	return sb.String(), nil
}

// rephraseInstruction asks the model to resolve pronouns and implicit
// references against the conversation.
const rephraseInstruction = "You are a Technical Documentation AI Assistant. " +
	"Your task is to rephrase user queries to make them more explicit and clear, focusing only on technical documentation. " +
	"Use the provided conversation history to replace pronouns, vague terms, or implicit references with precise technical terms. " +
	"Do not add unrelated or fabricated information. If clarification is not possible, return the query unchanged.\n\n" +
	"Here is an example:\n\n" +
	"Conversation history:\n" +
	"user: How do I install the software?\n" +
	"assistant: You can install the software by running the `install.sh` script.\n\n" +
	"user: What does it do?\n" +
	"Query to be rephrased: How does the `install.sh` script work?\n\n" +
	"Now, use the conversation history and the provided query to rephrase the following question explicitly."

// Completer issues one chat completion.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message) (string, error)
}

// LLMRewriter rephrases follow-ups with the chat model. Not deterministic;
// for deployments preferring recall over reproducibility.
type LLMRewriter struct {
	completer Completer
	logger    log.Logger
}

// NewLLMRewriter creates an LLMRewriter.
func NewLLMRewriter(completer Completer, logger log.Logger) *LLMRewriter {
	if logger == nil {
		logger = log.NewNop()
	}
	return &LLMRewriter{completer: completer, logger: logger}
}

// Rewrite asks the model for a standalone rephrasing. A fresh conversation
// skips the model call.
func (r *LLMRewriter) Rewrite(ctx context.Context, history []Turn, question string) (string, error) {
	if len(history) == 0 {
		return question, nil
	}
	if len(history) > recentTurns {
		history = history[len(history)-recentTurns:]
	}

	var hist strings.Builder
	for _, t := range history {
		fmt.Fprintf(&hist, "user: %s\nassistant: %s\n", t.Question, t.Answer)
	}

	rephrased, err := r.completer.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: rephraseInstruction},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Conversation history:\n%s\nQuery to be rephrased: %s\n", hist.String(), question)},
	})
	if err != nil {
		return "", fmt.Errorf("rephrasing query: %w", err)
	}

	rephrased = strings.TrimSpace(rephrased)
	if rephrased == "" {
		return question, nil
	}
	r.logger.Debug("query rephrased", "original_len", len(question), "rephrased_len", len(rephrased))
	return rephrased, nil
}

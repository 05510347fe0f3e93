// Package prompt assembles retrieved chunks into the context block handed to
// the answer generator, under a token budget.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aldin-datascience/tech-docs-rag/internal/index"
	"github.com/aldin-datascience/tech-docs-rag/internal/log"
)

// ErrBudgetExceeded is returned when retrieval produced chunks but not even
// the highest-ranked one fits the budget. Callers may degrade to an
// explicitly ungrounded answer.
var ErrBudgetExceeded = errors.New("prompt: no retrieved chunk fits the token budget")

// Passage is one context chunk with its provenance.
type Passage struct {
	ChunkID string
	Source  string
	Title   string
	Heading string
	Ordinal int
	Text    string
}

// AugmentedPrompt is the assembled context. It is immutable once built:
// accessors return copies, and there are no mutating methods.
type AugmentedPrompt struct {
	passages []Passage
	context  string
	tokens   int
}

// Grounded reports whether any retrieved context made it into the prompt.
func (p AugmentedPrompt) Grounded() bool { return len(p.passages) > 0 }

// Tokens is the token count of the rendered context.
func (p AugmentedPrompt) Tokens() int { return p.tokens }

// Context is the rendered context block, one provenance-marked passage per
// section.
func (p AugmentedPrompt) Context() string { return p.context }

// Passages returns the included passages in rank order.
func (p AugmentedPrompt) Passages() []Passage {
	out := make([]Passage, len(p.passages))
	copy(out, p.passages)
	return out
}

// ChunkIDs returns the IDs of included passages in rank order.
func (p AugmentedPrompt) ChunkIDs() []string {
	ids := make([]string, len(p.passages))
	for i, ps := range p.passages {
		ids[i] = ps.ChunkID
	}
	return ids
}

// builder accumulates passages and renders the final immutable prompt.
type builder struct {
	passages []Passage
	sections []string
	tokens   int
}

func (b *builder) add(p Passage, rendered string, tokens int) {
	b.passages = append(b.passages, p)
	b.sections = append(b.sections, rendered)
	b.tokens += tokens
}

func (b *builder) build() AugmentedPrompt {
	return AugmentedPrompt{
		passages: b.passages,
		context:  strings.Join(b.sections, "\n\n"),
		tokens:   b.tokens,
	}
}

// Assembler packs ranked chunks into prompts.
type Assembler struct {
	counter Counter
	budget  int
	logger  log.Logger
}

// NewAssembler creates an Assembler with the given token budget.
func NewAssembler(counter Counter, budget int, logger log.Logger) *Assembler {
	if logger == nil {
		logger = log.NewNop()
	}
	if counter == nil {
		counter = EstimateCounter{}
	}
	return &Assembler{counter: counter, budget: budget, logger: logger}
}

// Assemble walks results in rank order, skipping duplicates and chunks that
// would overflow the budget. A chunk too large for the remaining budget is
// skipped whole, never truncated, and lower-ranked smaller chunks may still
// be included after it.
//
// Empty results produce an ungrounded prompt without error, as do results
// that reduce to nothing for non-budget reasons (blank or duplicate text).
// ErrBudgetExceeded is reserved for budget skips leaving nothing included.
func (a *Assembler) Assemble(results []index.ScoredRecord) (AugmentedPrompt, error) {
	var b builder
	overBudget := false
	seenText := make(map[string]bool)
	seenSpan := make(map[string][]int) // document id -> included ordinals

	for _, r := range results {
		rec := r.Record

		text := strings.TrimSpace(rec.Text)
		if text == "" || seenText[text] {
			continue
		}
		if overlapsIncluded(seenSpan[rec.DocumentID], rec.Ordinal) {
			// A higher-ranked neighbor already covers this span; the
			// overlap region would just repeat.
			continue
		}

		rendered := renderPassage(rec)
		tokens := a.counter.Count(rendered)
		if b.tokens+tokens > a.budget {
			overBudget = true
			a.logger.Debug("skipping chunk over budget",
				"chunk_id", rec.ChunkID, "tokens", tokens, "used", b.tokens)
			continue
		}

		seenText[text] = true
		seenSpan[rec.DocumentID] = append(seenSpan[rec.DocumentID], rec.Ordinal)
		b.add(Passage{
			ChunkID: rec.ChunkID,
			Source:  rec.Source,
			Title:   rec.Title,
			Heading: rec.Heading,
			Ordinal: rec.Ordinal,
			Text:    text,
		}, rendered, tokens)
	}

	if overBudget && len(b.passages) == 0 {
		return AugmentedPrompt{}, ErrBudgetExceeded
	}
	return b.build(), nil
}

// overlapsIncluded reports whether an adjacent or identical ordinal of the
// same document is already included. Adjacent chunks share overlap text.
func overlapsIncluded(included []int, ordinal int) bool {
	for _, o := range included {
		if ordinal >= o-1 && ordinal <= o+1 {
			return true
		}
	}
	return false
}

// renderPassage formats one chunk with its provenance marker.
func renderPassage(rec index.Record) string {
	label := rec.Source
	if rec.Heading != "" {
		label = fmt.Sprintf("%s § %s", rec.Source, rec.Heading)
	}
	return fmt.Sprintf("[%s]\n%s", label, strings.TrimSpace(rec.Text))
}

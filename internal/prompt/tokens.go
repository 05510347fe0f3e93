package prompt

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Counter estimates token counts for budget accounting.
type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts with the actual model tokenizer.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the tokenizer for a model. Unknown models fall
// back to the cl100k_base encoding.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateCounter approximates tokens from rune count. Used when the
// tokenizer data is unavailable, e.g. offline environments.
type EstimateCounter struct{}

// Count assumes roughly four runes per token, the usual English-text ratio.
func (EstimateCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// NewCounter returns the tiktoken counter when it can be constructed and the
// rune estimate otherwise.
func NewCounter(model string) Counter {
	if c, err := NewTiktokenCounter(model); err == nil {
		return c
	}
	return EstimateCounter{}
}

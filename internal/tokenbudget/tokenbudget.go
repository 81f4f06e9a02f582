// Package tokenbudget estimates prompt token counts for the agent driver's
// advisory budget warning (SPEC_FULL.md §4.6 [FULL]), grounded on the
// teacher's pkg/utils/tiktoken.go wrapper over tiktoken-go/tokenizer.
package tokenbudget

import (
	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens for a single codec, lazily created once per process.
type Counter struct {
	codec tokenizer.Codec
}

// NewCounter returns a Counter using the GPT-4 encoding, the same
// across-provider approximation the teacher uses for both OpenAI and Claude
// models (§4.6: this is advisory instrumentation, not a gate, so an exact
// per-provider tokenizer is not required).
func NewCounter() (*Counter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, err
	}
	return &Counter{codec: codec}, nil
}

// Count returns the estimated token count of text, falling back to a
// character-based approximation (4 chars per token) if the codec is unset or
// errors, matching the teacher's defensive fallback.
func (c *Counter) Count(text string) int {
	if c == nil || c.codec == nil {
		return len(text) / 4
	}
	n, err := c.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// ExceedsBudget reports whether text's estimated token count exceeds max.
func (c *Counter) ExceedsBudget(text string, max int) bool {
	return c.Count(text) > max
}

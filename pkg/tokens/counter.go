// Package tokens counts model tokens for budget decisions.
package tokens

import (
	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding matches the tokenizer family of the default analysis model.
const DefaultEncoding = "cl100k_base"

// Counter produces token counts for a model family. When no BPE encoding can
// be loaded it degrades to a chars/4 heuristic; callers that enforce hard
// limits must widen their safety margin in that mode (see Approximate).
type Counter struct {
	enc    *tiktoken.Tiktoken
	approx bool
}

// NewCounter builds a counter for the given model, falling back to the
// cl100k_base encoding for unknown models and to the heuristic when no
// encoding data is available at all.
func NewCounter(model string) *Counter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(DefaultEncoding)
	}
	if err != nil {
		return &Counter{approx: true}
	}
	return &Counter{enc: enc}
}

// NewHeuristicCounter returns a counter that always uses the chars/4 estimate.
func NewHeuristicCounter() *Counter {
	return &Counter{approx: true}
}

// Count returns the token count for text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.enc == nil {
		// ceil(len/4)
		return (len(text) + 3) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Approximate reports whether the counter is running on the heuristic
// fallback rather than a real encoder.
func (c *Counter) Approximate() bool {
	return c.approx
}

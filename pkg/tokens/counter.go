// Package tokens provides model-aware token counting backed by tiktoken.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts and slices text in the token unit of a specific model.
type Counter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	// Encodings are expensive to build, so they are cached per model.
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewCounter builds a counter for model, falling back to the cl100k_base
// encoding for models tiktoken does not know.
func NewCounter(model string) (*Counter, error) {
	cacheMu.RLock()
	cached, ok := encodingCache[model]
	cacheMu.RUnlock()
	if ok {
		return &Counter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &Counter{encoding: encoding, model: model}, nil
}

func (c *Counter) Model() string { return c.model }

// Count returns the token count of text.
func (c *Counter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// Encode returns the token ids of text.
func (c *Counter) Encode(text string) []int {
	return c.encoding.Encode(text, nil, nil)
}

// Decode reassembles text from token ids.
func (c *Counter) Decode(ids []int) string {
	return c.encoding.Decode(ids)
}

// Estimate approximates the token count of text without an encoding,
// using the rough four-characters-per-token heuristic.
func Estimate(text string) int {
	return len(text) / 4
}

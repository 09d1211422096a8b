// Package tokencount estimates prompt sizes for provider calls.
//
// Gemini does not publish a local tokenizer, so cl100k_base from tiktoken-go is
// used as an approximation. When the encoding cannot be loaded the counter falls
// back to a characters/4 estimate.
package tokencount

import (
	"log/slog"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

// Counter provides thread-safe token estimates.
type Counter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewCounter creates a new token counter instance. The encoding is loaded lazily.
func NewCounter() *Counter {
	return &Counter{}
}

// DefaultCounter is a global token counter instance.
var DefaultCounter = NewCounter()

func (c *Counter) encoding() (*tiktoken.Tiktoken, error) {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding(encodingName)
		if c.err != nil {
			slog.Debug("token encoding unavailable, using estimate", slog.Any("error", c.err))
		}
	})
	return c.enc, c.err
}

// Count returns the token estimate for text and whether it is exact for the approximating encoding.
func (c *Counter) Count(text string) (int, bool) {
	if text == "" {
		return 0, true
	}
	enc, err := c.encoding()
	if err != nil {
		return Estimate(text), false
	}
	return len(enc.Encode(text, nil, nil)), true
}

// Estimate is the rough ~4 characters per token heuristic.
func Estimate(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// CountPrompt uses the default counter.
func CountPrompt(text string) int {
	n, _ := DefaultCounter.Count(text)
	return n
}

// Package tokencount provides token counting for provider calls.
//
// It uses tiktoken-go to count prompt tokens so the client can log usage and
// cap max_tokens before a request leaves the process. Models without a known
// tiktoken encoding fall back to cl100k_base, which is close enough for
// accounting purposes.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Counter provides thread-safe token counting.
type Counter struct {
	encodingCache map[string]*tiktoken.Tiktoken
	mu            sync.RWMutex
}

// NewCounter creates a new token counter instance.
func NewCounter() *Counter {
	return &Counter{encodingCache: make(map[string]*tiktoken.Tiktoken)}
}

// DefaultCounter is a process-wide counter instance.
var DefaultCounter = NewCounter()

func (c *Counter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	key := normalizeModelName(model)

	c.mu.RLock()
	if enc, ok := c.encodingCache[key]; ok {
		c.mu.RUnlock()
		return enc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodingCache[key]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(key)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	c.encodingCache[key] = enc
	return enc, nil
}

// CountTokens returns the token count of text for the given model. Errors
// degrade to a character-length estimate rather than failing the call.
func (c *Counter) CountTokens(model, text string) int {
	if text == "" {
		return 0
	}
	enc, err := c.encodingFor(model)
	if err != nil {
		slog.Debug("token encoding unavailable, estimating", slog.String("model", model), slog.Any("error", err))
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// ContextWindow returns the model's total context size in tokens. Unknown
// models get a conservative window so capping errs on the safe side.
func ContextWindow(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "claude"):
		return 200000
	case strings.HasPrefix(m, "gemini"):
		return 1048576
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4.1"), strings.HasPrefix(m, "gpt-4-turbo"):
		return 128000
	case strings.HasPrefix(m, "gpt-3.5"):
		return 16385
	case strings.HasPrefix(m, "sonar"):
		return 127072
	default:
		return 8192
	}
}

func normalizeModelName(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-4"), strings.HasPrefix(m, "gpt-3.5"), strings.HasPrefix(m, "o1"):
		return m
	default:
		return "gpt-4"
	}
}

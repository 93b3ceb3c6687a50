package chunking

import (
	"math"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/observability"
)

// TokenCounter measures text in model tokens.
type TokenCounter interface {
	Count(text string) int
	Name() string
}

// TiktokenCounter counts BPE tokens.
type TiktokenCounter struct {
	enc      *tiktoken.Tiktoken
	encoding string
}

// Count returns the number of tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Name returns the encoding name.
func (c *TiktokenCounter) Name() string { return c.encoding }

// ApproxCounter estimates tokens as whitespace words times a multiplier,
// rounded up.
type ApproxCounter struct {
	Multiplier float64
}

// Count returns the estimated token count.
func (c ApproxCounter) Count(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	m := c.Multiplier
	if m <= 0 {
		m = 1
	}
	return int(math.Ceil(float64(words) * m))
}

// Name identifies the approximation.
func (c ApproxCounter) Name() string { return "approx" }

// NewTokenCounter loads the named encoding. If it cannot be loaded the
// approximate counter is returned and a warning is logged.
func NewTokenCounter(encoding string, multiplier float64, logger *observability.Logger) TokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		if logger != nil {
			logger.Warn().
				Err(err).
				Str("encoding", encoding).
				Float64("multiplier", multiplier).
				Msg("Tokenizer unavailable, using approximate token counts")
		}
		return ApproxCounter{Multiplier: multiplier}
	}
	return &TiktokenCounter{enc: enc, encoding: encoding}
}

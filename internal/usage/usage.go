// internal/usage/usage.go
package usage

import (
	"strings"

	"rewind/internal/conversation"
)

// Claude 4 pricing constants (per million tokens)
const (
	opusInputPrice      = 15.0
	opusOutputPrice     = 75.0
	opusCacheWritePrice = 18.75
	opusCacheReadPrice  = 1.50

	sonnetInputPrice      = 3.0
	sonnetOutputPrice     = 15.0
	sonnetCacheWritePrice = 3.75
	sonnetCacheReadPrice  = 0.30

	haikuInputPrice      = 0.80
	haikuOutputPrice     = 4.0
	haikuCacheWritePrice = 1.0
	haikuCacheReadPrice  = 0.08
)

// Totals accumulates token and cost figures across messages
type Totals struct {
	TokensIn    int64   `json:"tokens_in"`
	TokensOut   int64   `json:"tokens_out"`
	CacheWrites int64   `json:"cache_writes"`
	CacheReads  int64   `json:"cache_reads"`
	Cost        float64 `json:"cost"`
	Requests    int     `json:"requests"`
}

// Add folds one message into the totals. Messages that carry no cost but do
// carry tokens get an estimated cost from the pricing table.
func (t *Totals) Add(msg *conversation.Message) {
	if msg.TokensIn == 0 && msg.TokensOut == 0 && msg.CacheWrites == 0 && msg.CacheReads == 0 && msg.Cost == 0 {
		return
	}

	t.TokensIn += msg.TokensIn
	t.TokensOut += msg.TokensOut
	t.CacheWrites += msg.CacheWrites
	t.CacheReads += msg.CacheReads
	t.Requests++

	if msg.Cost > 0 {
		t.Cost += msg.Cost
	} else {
		t.Cost += EstimateCost(msg.Model, msg.TokensIn, msg.TokensOut, msg.CacheWrites, msg.CacheReads)
	}
}

// TotalTokens returns the combined token count
func (t *Totals) TotalTokens() int64 {
	return t.TokensIn + t.TokensOut + t.CacheWrites + t.CacheReads
}

// IsZero reports whether nothing was accumulated
func (t *Totals) IsZero() bool {
	return t.Requests == 0
}

// Aggregate sums usage over a window of messages
func Aggregate(messages []*conversation.Message) Totals {
	var totals Totals
	for _, msg := range messages {
		totals.Add(msg)
	}
	return totals
}

// EstimateCost calculates cost based on model and token usage
func EstimateCost(model string, inputTokens, outputTokens, cacheCreation, cacheRead int64) float64 {
	var inputPrice, outputPrice, cacheWritePrice, cacheReadPrice float64

	switch {
	case strings.Contains(model, "opus"):
		inputPrice = opusInputPrice
		outputPrice = opusOutputPrice
		cacheWritePrice = opusCacheWritePrice
		cacheReadPrice = opusCacheReadPrice
	case strings.Contains(model, "sonnet"):
		inputPrice = sonnetInputPrice
		outputPrice = sonnetOutputPrice
		cacheWritePrice = sonnetCacheWritePrice
		cacheReadPrice = sonnetCacheReadPrice
	case strings.Contains(model, "haiku"):
		inputPrice = haikuInputPrice
		outputPrice = haikuOutputPrice
		cacheWritePrice = haikuCacheWritePrice
		cacheReadPrice = haikuCacheReadPrice
	default:
		// Unknown models cost nothing rather than something wrong
		return 0.0
	}

	return (float64(inputTokens) * inputPrice / 1_000_000.0) +
		(float64(outputTokens) * outputPrice / 1_000_000.0) +
		(float64(cacheCreation) * cacheWritePrice / 1_000_000.0) +
		(float64(cacheRead) * cacheReadPrice / 1_000_000.0)
}

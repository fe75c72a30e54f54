package provider

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/GoCodeAlone/pilot/cache"
	"github.com/GoCodeAlone/pilot/history"
)

// Estimator approximates token counts. Implementations must be cheap
// enough to run before every model call.
type Estimator interface {
	Estimate(text string) int
}

// CharEstimator approximates token count from character classes: ASCII
// runs about 4 chars per token, everything else closer to 1.5, plus a
// small overhead for tokenization boundaries. Precision is deliberately
// traded for availability: it needs no tokenizer and never fails.
type CharEstimator struct{}

func (CharEstimator) Estimate(text string) int {
	ascii, other := 0, 0
	for _, r := range text {
		if r < 128 {
			ascii++
		} else {
			other++
		}
	}
	return int(float64(ascii)/4.0+float64(other)/1.5) + 5
}

// CachedEstimator wraps an Estimator with the shared token-count cache,
// keyed by content hash. Token counts are cheap to produce and frequently
// reused, so they live in their own cache namespace.
type CachedEstimator struct {
	Inner Estimator
	Cache *cache.Store[int]
}

func (c *CachedEstimator) Estimate(text string) int {
	if c.Cache == nil {
		return c.Inner.Estimate(text)
	}
	key := contentHash(text)
	if n, ok := c.Cache.Get(key); ok {
		return n
	}
	n := c.Inner.Estimate(text)
	c.Cache.Put(key, n)
	return n
}

// EstimateTurn prices one turn: its text plus the producer-declared cost
// of any attached image.
func EstimateTurn(est Estimator, t history.Turn) int {
	cost := 0
	if t.Text != "" {
		cost += est.Estimate(t.Text)
	}
	if t.Image != nil {
		cost += t.Image.TokenCost
	}
	return cost
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

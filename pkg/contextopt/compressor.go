// Package contextopt shrinks oversized context blobs before they are sent
// downstream. Compression runs a caller-supplied strategy pipeline and
// memoizes results with a TTL.
package contextopt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quenchlab/toolwire/pkg/logger"
	"github.com/quenchlab/toolwire/pkg/ratelimit"
)

// Config holds the token budget and per-mode spend shares.
type Config struct {
	// MaxTokens is the global context budget.
	MaxTokens int `json:"max_tokens"`
	// ModeShares maps a mode to the fraction of MaxTokens it may consume
	// before compression kicks in.
	ModeShares map[string]float64 `json:"mode_shares"`
	// CacheTTL bounds how long a compression result is reused.
	CacheTTL time.Duration `json:"-"`
}

// DefaultConfig returns the stock budget and shares.
func DefaultConfig() Config {
	return Config{
		MaxTokens: 8192,
		ModeShares: map[string]float64{
			"design":      0.6,
			"engineering": 0.7,
			"testing":     0.5,
			"deployment":  0.6,
			"maintenance": 0.5,
		},
		CacheTTL: time.Hour,
	}
}

const defaultModeShare = 0.7

// Strategy is one stage of the compression pipeline. Apply consumes the
// previous stage's output. The analysis algorithm itself lives in an
// external collaborator; only the pipeline contract is fixed here.
type Strategy struct {
	Name  string
	Apply func(ctx context.Context, text string) (string, error)
}

// CompressedContext is a memoized compression result. Entries are never
// updated in place; a miss produces a fresh entry that replaces the old one.
type CompressedContext struct {
	OriginalLength    int
	CompressedLength  int
	CompressionRatio  float64
	PreservedElements []string
	Timestamp         time.Time
}

// Compressor estimates token cost and compresses input that exceeds its
// mode's share of the global budget.
type Compressor struct {
	cfg        Config
	limiter    *ratelimit.Limiter
	strategies []Strategy

	mu      sync.Mutex
	cache   map[string]CompressedContext
	nowFunc func() time.Time
}

// New creates a Compressor. strategies run in the given order; limiter may
// be nil when usage tracking is not wanted.
func New(cfg Config, limiter *ratelimit.Limiter, strategies []Strategy) *Compressor {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Compressor{
		cfg:        cfg,
		limiter:    limiter,
		strategies: strategies,
		cache:      make(map[string]CompressedContext),
		nowFunc:    time.Now,
	}
}

// EstimateTokens uses the coarse four-characters-per-token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// OptimizeContext records the input's token cost and returns a compressed
// version only when the estimate exceeds the mode's share of MaxTokens;
// otherwise the input comes back unchanged.
func (c *Compressor) OptimizeContext(ctx context.Context, text, mode string) (string, error) {
	tokens := EstimateTokens(text)

	if c.limiter != nil {
		c.limiter.RecordContext(tokens, mode, len(text))
	}

	share, ok := c.cfg.ModeShares[mode]
	if !ok {
		share = defaultModeShare
	}
	if float64(tokens) <= float64(c.cfg.MaxTokens)*share {
		return text, nil
	}

	return c.compress(ctx, text, mode)
}

func (c *Compressor) compress(ctx context.Context, text, mode string) (string, error) {
	key := CacheKey(text, mode)
	now := c.nowFunc()

	c.mu.Lock()
	cached, hit := c.cache[key]
	c.mu.Unlock()

	if hit && now.Sub(cached.Timestamp) < c.cfg.CacheTTL {
		return strings.Join(cached.PreservedElements, "\n"), nil
	}

	compressed := text
	for _, strategy := range c.strategies {
		out, err := strategy.Apply(ctx, compressed)
		if err != nil {
			return "", fmt.Errorf("compression strategy %q failed: %w", strategy.Name, err)
		}
		compressed = out
	}

	entry := CompressedContext{
		OriginalLength:    len(text),
		CompressedLength:  len(compressed),
		CompressionRatio:  float64(len(compressed)) / float64(len(text)),
		PreservedElements: preservedElements(compressed),
		Timestamp:         now,
	}

	c.mu.Lock()
	c.cache[key] = entry
	c.mu.Unlock()

	logger.DebugCF("contextopt", "Compressed context", map[string]any{
		"mode":     mode,
		"original": entry.OriginalLength,
		"result":   entry.CompressedLength,
		"ratio":    fmt.Sprintf("%.2f", entry.CompressionRatio),
	})

	return compressed, nil
}

// CacheKey derives the memoization key from the mode and the first hundred
// characters of the input. Distinct long inputs sharing that prefix under
// the same mode collide; known approximation, not a correctness guarantee.
func CacheKey(text, mode string) string {
	runes := []rune(text)
	if len(runes) > 100 {
		runes = runes[:100]
	}
	return mode + "-" + string(runes)
}

func preservedElements(compressed string) []string {
	lines := strings.Split(compressed, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return kept
}

// Stats returns a copy of the current cache contents.
func (c *Compressor) Stats() map[string]CompressedContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]CompressedContext, len(c.cache))
	for k, v := range c.cache {
		out[k] = v
	}
	return out
}

// ClearCache drops all cached entries unconditionally.
func (c *Compressor) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]CompressedContext)
}

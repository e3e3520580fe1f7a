// Package ratelimit provides sliding-window token budgeting, globally and
// per operating mode. Check never mutates state; only Record does.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/quenchlab/toolwire/pkg/logger"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
	dayWindow    = 24 * time.Hour

	// sweepInterval is how often stale usage records are discarded and the
	// running counters recomputed from what remains.
	sweepInterval = time.Minute
)

// ModeLimit holds the per-mode ceilings.
type ModeLimit struct {
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
}

// Config holds the global and per-mode token ceilings.
type Config struct {
	MaxTokensPerMinute int                  `json:"max_tokens_per_minute"`
	MaxTokensPerHour   int                  `json:"max_tokens_per_hour"`
	MaxTokensPerDay    int                  `json:"max_tokens_per_day"`
	ModeLimits         map[string]ModeLimit `json:"mode_limits"`
}

// DefaultConfig returns the stock ceilings.
func DefaultConfig() Config {
	return Config{
		MaxTokensPerMinute: 1000,
		MaxTokensPerHour:   10000,
		MaxTokensPerDay:    100000,
		ModeLimits: map[string]ModeLimit{
			"design":      {PerMinute: 800, PerHour: 8000},
			"engineering": {PerMinute: 1200, PerHour: 12000},
			"testing":     {PerMinute: 600, PerHour: 6000},
		},
	}
}

// UsageRecord is one recorded spend. Records older than the day window are
// discardable.
type UsageRecord struct {
	Timestamp     time.Time
	Tokens        int
	Mode          string
	ContextLength int
}

// Exceeded describes the first ceiling a proposed spend would break.
type Exceeded struct {
	Window  string // "minute", "hour" or "day"
	Scope   string // "global" or "mode"
	Mode    string
	Current int
	Limit   int
}

// Usage carries the post-update totals after a Record.
type Usage struct {
	Tokens int
	Mode   string
	Minute int
	Hour   int
	Day    int
}

// Listener receives limiter events. Implementations must be safe for
// concurrent use; events fire from whichever goroutine called the limiter.
type Listener interface {
	OnExceeded(e Exceeded)
	OnUsage(u Usage)
}

// Limiter gates proposed token spends against sliding minute/hour/day
// windows, globally and per mode.
type Limiter struct {
	cfg Config

	mu           sync.Mutex
	history      []UsageRecord
	minuteTokens int
	hourTokens   int
	dayTokens    int
	nowFunc      func() time.Time

	listenersMu sync.RWMutex
	listeners   []Listener
}

func New(cfg Config) *Limiter {
	if cfg.ModeLimits == nil {
		cfg.ModeLimits = make(map[string]ModeLimit)
	}
	return &Limiter{cfg: cfg, nowFunc: time.Now}
}

// AddListener subscribes to exceeded/usage events.
func (l *Limiter) AddListener(listener Listener) {
	l.listenersMu.Lock()
	defer l.listenersMu.Unlock()
	l.listeners = append(l.listeners, listener)
}

func (l *Limiter) emitExceeded(e Exceeded) {
	l.listenersMu.RLock()
	listeners := l.listeners
	l.listenersMu.RUnlock()
	for _, listener := range listeners {
		listener.OnExceeded(e)
	}
}

func (l *Limiter) emitUsage(u Usage) {
	l.listenersMu.RLock()
	listeners := l.listeners
	l.listenersMu.RUnlock()
	for _, listener := range listeners {
		listener.OnUsage(u)
	}
}

// Check reports whether spending tokens under mode would stay within every
// ceiling. A spend landing exactly on a limit is allowed; only exceeding it
// is rejected. Check records nothing.
func (l *Limiter) Check(tokens int, mode string) bool {
	l.mu.Lock()
	now := l.nowFunc()
	l.sweepLocked(now)

	minute, hour, day := l.minuteTokens, l.hourTokens, l.dayTokens
	modeMinute := l.modeUsageLocked(mode, now, minuteWindow)
	modeHour := l.modeUsageLocked(mode, now, hourWindow)
	modeLimits, hasModeLimits := l.cfg.ModeLimits[mode]
	l.mu.Unlock()

	if minute+tokens > l.cfg.MaxTokensPerMinute {
		l.emitExceeded(Exceeded{Window: "minute", Scope: "global", Mode: mode, Current: minute, Limit: l.cfg.MaxTokensPerMinute})
		return false
	}
	if hour+tokens > l.cfg.MaxTokensPerHour {
		l.emitExceeded(Exceeded{Window: "hour", Scope: "global", Mode: mode, Current: hour, Limit: l.cfg.MaxTokensPerHour})
		return false
	}
	if day+tokens > l.cfg.MaxTokensPerDay {
		l.emitExceeded(Exceeded{Window: "day", Scope: "global", Mode: mode, Current: day, Limit: l.cfg.MaxTokensPerDay})
		return false
	}

	if hasModeLimits {
		if modeMinute+tokens > modeLimits.PerMinute {
			l.emitExceeded(Exceeded{Window: "minute", Scope: "mode", Mode: mode, Current: modeMinute, Limit: modeLimits.PerMinute})
			return false
		}
		if modeHour+tokens > modeLimits.PerHour {
			l.emitExceeded(Exceeded{Window: "hour", Scope: "mode", Mode: mode, Current: modeHour, Limit: modeLimits.PerHour})
			return false
		}
	}

	return true
}

// Record appends a usage record and bumps the running counters.
func (l *Limiter) Record(tokens int, mode string) {
	l.RecordContext(tokens, mode, 0)
}

// RecordContext is Record with the originating context length attached,
// used by the context compressor's usage tracking.
func (l *Limiter) RecordContext(tokens int, mode string, contextLength int) {
	l.mu.Lock()
	now := l.nowFunc()
	l.history = append(l.history, UsageRecord{Timestamp: now, Tokens: tokens, Mode: mode, ContextLength: contextLength})
	l.minuteTokens += tokens
	l.hourTokens += tokens
	l.dayTokens += tokens
	usage := Usage{Tokens: tokens, Mode: mode, Minute: l.minuteTokens, Hour: l.hourTokens, Day: l.dayTokens}
	l.mu.Unlock()

	l.emitUsage(usage)
}

// Start runs the periodic sweep until ctx is cancelled.
func (l *Limiter) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

// Sweep discards records older than the day window and recomputes the
// minute/hour/day counters from the survivors. Counters are derived, not
// independently trusted, to avoid drift.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(l.nowFunc())
}

func (l *Limiter) sweepLocked(now time.Time) {
	dayCutoff := now.Add(-dayWindow)
	hourCutoff := now.Add(-hourWindow)
	minuteCutoff := now.Add(-minuteWindow)

	kept := l.history[:0]
	minute, hour, day := 0, 0, 0
	for _, rec := range l.history {
		if !rec.Timestamp.After(dayCutoff) {
			continue
		}
		kept = append(kept, rec)
		day += rec.Tokens
		if rec.Timestamp.After(hourCutoff) {
			hour += rec.Tokens
		}
		if rec.Timestamp.After(minuteCutoff) {
			minute += rec.Tokens
		}
	}
	if dropped := len(l.history) - len(kept); dropped > 0 {
		logger.DebugCF("ratelimit", "Swept expired usage records", map[string]any{"dropped": dropped})
	}
	l.history = kept
	l.minuteTokens = minute
	l.hourTokens = hour
	l.dayTokens = day
}

func (l *Limiter) modeUsageLocked(mode string, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	total := 0
	for _, rec := range l.history {
		if rec.Mode == mode && rec.Timestamp.After(cutoff) {
			total += rec.Tokens
		}
	}
	return total
}

// CurrentUsage returns the global minute/hour/day totals.
func (l *Limiter) CurrentUsage() (minute, hour, day int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(l.nowFunc())
	return l.minuteTokens, l.hourTokens, l.dayTokens
}

// ModeUsage returns the minute and hour totals for one mode.
func (l *Limiter) ModeUsage(mode string) (minute, hour int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFunc()
	return l.modeUsageLocked(mode, now, minuteWindow), l.modeUsageLocked(mode, now, hourWindow)
}

// History returns a copy of the still-retained usage records.
func (l *Limiter) History() []UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]UsageRecord, len(l.history))
	copy(out, l.history)
	return out
}

// Reset drops all usage and zeroes the counters.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = nil
	l.minuteTokens = 0
	l.hourTokens = 0
	l.dayTokens = 0
}

package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingListener struct {
	mu       sync.Mutex
	exceeded []Exceeded
	usage    []Usage
}

func (r *recordingListener) OnExceeded(e Exceeded) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exceeded = append(r.exceeded, e)
}

func (r *recordingListener) OnUsage(u Usage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage = append(r.usage, u)
}

func (r *recordingListener) exceededEvents() []Exceeded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Exceeded(nil), r.exceeded...)
}

func newTestLimiter() (*Limiter, *time.Time) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	l := New(DefaultConfig())
	l.nowFunc = func() time.Time { return now }
	return l, &now
}

func TestCheckAllowsWithinLimits(t *testing.T) {
	l, _ := newTestLimiter()

	assert.True(t, l.Check(100, "deployment"))
	assert.True(t, l.Check(1000, "deployment"))
}

func TestCheckThenRecordSequence(t *testing.T) {
	l, _ := newTestLimiter()

	// Ten spends of 100 fill the global minute budget exactly.
	for i := 0; i < 10; i++ {
		assert.True(t, l.Check(100, "deployment"), "request %d should pass", i+1)
		l.Record(100, "deployment")
	}

	assert.False(t, l.Check(100, "deployment"), "request over the minute budget must be rejected")
}

func TestCheckExactlyOnLimitAllowed(t *testing.T) {
	l, _ := newTestLimiter()
	l.Record(900, "deployment")

	assert.True(t, l.Check(100, "deployment"))
	assert.False(t, l.Check(101, "deployment"))
}

func TestCheckRecordsNothing(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 50; i++ {
		l.Check(100, "deployment")
	}

	minute, hour, day := l.CurrentUsage()
	assert.Zero(t, minute)
	assert.Zero(t, hour)
	assert.Zero(t, day)
	assert.Empty(t, l.History())
}

func TestModeLimitEnforced(t *testing.T) {
	l, _ := newTestLimiter()
	l.Record(600, "testing")

	// The testing mode is capped at 600/minute but global headroom remains.
	assert.False(t, l.Check(1, "testing"))
	assert.True(t, l.Check(1, "deployment"))
}

func TestModeWithoutLimitsUsesGlobalOnly(t *testing.T) {
	l, _ := newTestLimiter()
	l.Record(999, "deployment")

	assert.True(t, l.Check(1, "deployment"))
	assert.False(t, l.Check(2, "deployment"))
}

func TestExceededListenerFiresWithFirstViolation(t *testing.T) {
	l, _ := newTestLimiter()
	listener := &recordingListener{}
	l.AddListener(listener)

	l.Record(1000, "deployment")
	assert.False(t, l.Check(1, "deployment"))

	events := listener.exceededEvents()
	assert.Len(t, events, 1)
	assert.Equal(t, "minute", events[0].Window)
	assert.Equal(t, "global", events[0].Scope)
	assert.Equal(t, 1000, events[0].Current)
	assert.Equal(t, 1000, events[0].Limit)
}

func TestModeExceededEvent(t *testing.T) {
	l, _ := newTestLimiter()
	listener := &recordingListener{}
	l.AddListener(listener)

	l.Record(800, "design")
	assert.False(t, l.Check(1, "design"))

	events := listener.exceededEvents()
	assert.Len(t, events, 1)
	assert.Equal(t, "mode", events[0].Scope)
	assert.Equal(t, "design", events[0].Mode)
}

func TestSweepExpiresMinuteWindow(t *testing.T) {
	l, now := newTestLimiter()
	l.Record(500, "deployment")

	*now = now.Add(2 * time.Minute)
	minute, hour, day := l.CurrentUsage()

	assert.Zero(t, minute)
	assert.Equal(t, 500, hour)
	assert.Equal(t, 500, day)
}

func TestSweepRecomputesCountersFromHistory(t *testing.T) {
	l, now := newTestLimiter()
	l.Record(100, "deployment")

	*now = now.Add(30 * time.Minute)
	l.Record(200, "deployment")

	*now = now.Add(45 * time.Second)
	minute, hour, day := l.CurrentUsage()
	assert.Equal(t, 200, minute)
	assert.Equal(t, 300, hour)
	assert.Equal(t, 300, day)

	*now = now.Add(31 * time.Minute)
	minute, hour, day = l.CurrentUsage()
	assert.Zero(t, minute)
	assert.Equal(t, 200, hour, "the first record left the hour window")
	assert.Equal(t, 300, day)
}

func TestSweepDropsRecordsOlderThanDay(t *testing.T) {
	l, now := newTestLimiter()
	l.Record(100, "deployment")

	*now = now.Add(25 * time.Hour)
	l.Sweep()

	assert.Empty(t, l.History())
	minute, hour, day := l.CurrentUsage()
	assert.Zero(t, minute)
	assert.Zero(t, hour)
	assert.Zero(t, day)
}

func TestModeUsageSlidingWindows(t *testing.T) {
	l, now := newTestLimiter()
	l.Record(100, "testing")

	*now = now.Add(2 * time.Minute)
	l.Record(50, "testing")

	minute, hour := l.ModeUsage("testing")
	assert.Equal(t, 50, minute)
	assert.Equal(t, 150, hour)
}

func TestUsageListenerCarriesTotals(t *testing.T) {
	l, _ := newTestLimiter()
	listener := &recordingListener{}
	l.AddListener(listener)

	l.Record(100, "deployment")
	l.Record(200, "deployment")

	listener.mu.Lock()
	defer listener.mu.Unlock()
	assert.Len(t, listener.usage, 2)
	assert.Equal(t, 300, listener.usage[1].Minute)
	assert.Equal(t, 300, listener.usage[1].Day)
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter()
	l.Record(500, "deployment")
	l.Reset()

	minute, hour, day := l.CurrentUsage()
	assert.Zero(t, minute)
	assert.Zero(t, hour)
	assert.Zero(t, day)
	assert.True(t, l.Check(1000, "deployment"))
}

func TestRecordContextKeepsContextLength(t *testing.T) {
	l, _ := newTestLimiter()
	l.RecordContext(25, "engineering", 100)

	history := l.History()
	assert.Len(t, history, 1)
	assert.Equal(t, 100, history[0].ContextLength)
	assert.Equal(t, "engineering", history[0].Mode)
}

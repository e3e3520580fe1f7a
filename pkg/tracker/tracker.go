// Package tracker keeps an append-only history of tool invocations for
// diagnostics and the /status endpoint. History is in-memory only and is
// never pruned automatically; long-running integrators can call Prune.
package tracker

import (
	"sync"
	"time"

	"github.com/quenchlab/toolwire/pkg/protocol"
)

// CallStats aggregates the recorded history for one tool.
type CallStats struct {
	Count            int     `json:"count"`
	AvgExecutionTime float64 `json:"avgExecutionTime"`
	Errors           int     `json:"errors"`
}

type outcome struct {
	executionTime int64
	isError       bool
}

// Tracker records every dispatch attempt, including the ones that failed
// schema or parameter checks before execution.
type Tracker struct {
	mu       sync.Mutex
	calls    map[string][]protocol.ToolCall
	outcomes map[string][]outcome
}

func New() *Tracker {
	return &Tracker{
		calls:    make(map[string][]protocol.ToolCall),
		outcomes: make(map[string][]outcome),
	}
}

// RecordCall appends the call to its tool's history.
func (t *Tracker) RecordCall(call protocol.ToolCall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls[call.Name] = append(t.calls[call.Name], call)
}

// RecordOutcome appends the terminal outcome of a dispatched call so that
// average execution time is derivable from history.
func (t *Tracker) RecordOutcome(name string, executionTime int64, isError bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes[name] = append(t.outcomes[name], outcome{executionTime: executionTime, isError: isError})
}

// CallStats aggregates over the full history per tool name.
func (t *Tracker) CallStats() map[string]CallStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := make(map[string]CallStats, len(t.calls))
	for name, calls := range t.calls {
		s := CallStats{Count: len(calls)}
		outcomes := t.outcomes[name]
		if len(outcomes) > 0 {
			var total int64
			for _, o := range outcomes {
				total += o.executionTime
				if o.isError {
					s.Errors++
				}
			}
			s.AvgExecutionTime = float64(total) / float64(len(outcomes))
		}
		stats[name] = s
	}
	return stats
}

// RecentCalls returns up to limit calls for the tool, newest first.
func (t *Tracker) RecentCalls(name string, limit int) []protocol.ToolCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	calls := t.calls[name]
	if limit <= 0 || limit > len(calls) {
		limit = len(calls)
	}

	recent := make([]protocol.ToolCall, 0, limit)
	for i := len(calls) - 1; i >= len(calls)-limit; i-- {
		recent = append(recent, calls[i])
	}
	return recent
}

// Prune drops calls older than maxAge. It is never invoked automatically.
func (t *Tracker) Prune(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	t.mu.Lock()
	defer t.mu.Unlock()
	for name, calls := range t.calls {
		kept := calls[:0]
		for _, c := range calls {
			if c.Timestamp >= cutoff {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(t.calls, name)
			continue
		}
		t.calls[name] = kept
	}
}

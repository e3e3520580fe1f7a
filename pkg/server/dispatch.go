package server

import (
	"context"
	"fmt"
	"time"

	"github.com/quenchlab/toolwire/pkg/logger"
	"github.com/quenchlab/toolwire/pkg/protocol"
)

// modeContextKey is the single argument key the dispatcher may inject.
// Caller-supplied keys are never overwritten.
const modeContextKey = "modeContext"

type execResult struct {
	value any
	err   error
}

// HandleToolCall runs the dispatch state machine for one call:
// received, schema-checked, mode-enriched, executed against the timeout.
// Every outcome is recorded in the tracker before this returns, including
// the ones rejected before execution.
func (s *Server) HandleToolCall(ctx context.Context, call protocol.ToolCall) protocol.ToolResponse {
	start := time.Now()

	s.callTracker.RecordCall(call)
	s.emit(Event{Type: EventToolCall, Call: &call})

	if call.Arguments == nil {
		call.Arguments = make(map[string]any)
	}

	if s.modeManager != nil {
		mode := s.modeManager.CurrentMode()
		if mode != "" {
			call.Arguments[modeContextKey] = map[string]any{
				"mode":       mode,
				"priorities": s.modeManager.ContentStrategy(mode).Priorities,
			}
		}
	}

	tool, ok := s.registry.Get(call.Name)
	if !ok {
		// Unknown tool short-circuits with zero execution time; the
		// handler is never consulted.
		return s.failCall(call, fmt.Sprintf("Tool not found: %s", call.Name), 0)
	}

	schema := tool.Schema()
	for _, required := range schema.Required {
		if _, present := call.Arguments[required]; !present {
			return s.failCall(call,
				fmt.Sprintf("Missing required parameter: %s", required),
				time.Since(start).Milliseconds())
		}
	}

	if err := s.registry.ValidateArgs(call.Name, call.Arguments); err != nil {
		return s.failCall(call, err.Error(), time.Since(start).Milliseconds())
	}

	execCtx, cancel := context.WithTimeout(ctx, s.opts.ToolTimeout)
	defer cancel()

	resultCh := make(chan execResult, 1)
	go func() {
		value, err := tool.Execute(execCtx, call.Arguments)
		resultCh <- execResult{value: value, err: err}
	}()

	select {
	case res := <-resultCh:
		elapsed := time.Since(start).Milliseconds()
		if res.err != nil {
			return s.failCall(call, res.err.Error(), elapsed)
		}
		resp := protocol.ToolResponse{ID: call.ID, Result: res.value, ExecutionTime: elapsed}
		s.callTracker.RecordOutcome(call.Name, elapsed, false)
		s.emit(Event{Type: EventToolSuccess, Call: &call, Response: &resp})
		logger.InfoCF("server", "Tool execution completed", map[string]any{
			"tool":        call.Name,
			"call":        call.ID,
			"duration_ms": elapsed,
		})
		return resp

	case <-execCtx.Done():
		// The handler goroutine is abandoned, not killed; execCtx lets
		// cooperative tools stop early.
		elapsed := time.Since(start).Milliseconds()
		return s.failCall(call,
			fmt.Sprintf("Tool execution timed out after %dms", s.opts.ToolTimeout.Milliseconds()),
			elapsed)
	}
}

func (s *Server) failCall(call protocol.ToolCall, message string, elapsed int64) protocol.ToolResponse {
	resp := protocol.ToolResponse{ID: call.ID, Error: message, ExecutionTime: elapsed}
	s.callTracker.RecordOutcome(call.Name, elapsed, true)
	s.emit(Event{Type: EventToolError, Call: &call, Response: &resp})
	logger.WarnCF("server", "Tool execution failed", map[string]any{
		"tool":        call.Name,
		"call":        call.ID,
		"duration_ms": elapsed,
		"error":       message,
	})
	return resp
}

package tools

import (
	"context"

	"github.com/quenchlab/toolwire/pkg/protocol"
)

// Tool is a named, schema-described operation that clients may invoke
// remotely. Execute must honor ctx cancellation where it can; the server
// abandons the result after its timeout but never kills the goroutine.
type Tool interface {
	Schema() protocol.ToolSchema
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// FuncTool adapts a plain function into a Tool.
type FuncTool struct {
	schema protocol.ToolSchema
	fn     func(ctx context.Context, args map[string]any) (any, error)
}

// NewFuncTool wraps schema and fn into a Tool.
func NewFuncTool(schema protocol.ToolSchema, fn func(ctx context.Context, args map[string]any) (any, error)) *FuncTool {
	return &FuncTool{schema: schema, fn: fn}
}

func (t *FuncTool) Schema() protocol.ToolSchema { return t.schema }

func (t *FuncTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return t.fn(ctx, args)
}

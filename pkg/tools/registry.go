package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/quenchlab/toolwire/pkg/logger"
	"github.com/quenchlab/toolwire/pkg/protocol"
)

// Registry maps tool names to implementations. Registering a name that
// already exists overwrites the previous entry.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]Tool
	validators map[string]*gojsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{
		tools:      make(map[string]Tool),
		validators: make(map[string]*gojsonschema.Schema),
	}
}

func (r *Registry) Register(tool Tool) {
	name := tool.Schema().Name
	r.mu.Lock()
	r.tools[name] = tool
	// Compiled validator belongs to the old schema.
	delete(r.validators, name)
	r.mu.Unlock()

	logger.InfoCF("registry", "Registered tool", map[string]any{"tool": name})
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// sortedToolNames returns tool names in sorted order for deterministic
// iteration. Callers must hold at least a read lock.
func (r *Registry) sortedToolNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedToolNames()
}

// Schemas returns all registered tool schemas in name order.
func (r *Registry) Schemas() []protocol.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := r.sortedToolNames()
	schemas := make([]protocol.ToolSchema, 0, len(sorted))
	for _, name := range sorted {
		schemas = append(schemas, r.tools[name].Schema())
	}
	return schemas
}

// ValidateArgs checks args against the tool's parameter schema. Tools with
// no declared parameters skip validation. The compiled schema is cached and
// invalidated when the tool is re-registered.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	r.mu.RLock()
	tool, ok := r.tools[name]
	validator := r.validators[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("tool %q not found", name)
	}

	schema := tool.Schema()
	if len(schema.Parameters) == 0 {
		return nil
	}

	if validator == nil {
		compiled, err := compileSchema(schema)
		if err != nil {
			return fmt.Errorf("internal schema error for tool %q: %w", name, err)
		}
		r.mu.Lock()
		r.validators[name] = compiled
		r.mu.Unlock()
		validator = compiled
	}

	result, err := validator.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("internal validation error for tool %q: %w", name, err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return fmt.Errorf("invalid arguments for tool %q: %s", name, strings.Join(details, "; "))
	}
	return nil
}

func compileSchema(schema protocol.ToolSchema) (*gojsonschema.Schema, error) {
	doc := map[string]any{
		"type":       "object",
		"properties": schema.Parameters,
	}
	// Required names are enforced by the dispatcher first so the error can
	// point at the missing parameter; repeating them here keeps the compiled
	// schema faithful to what the client saw in server_info.
	if len(schema.Required) > 0 {
		doc["required"] = schema.Required
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
}

package agents

import (
	"context"
	"fmt"
	"sort"

	"brain/internal/logging"
	"brain/internal/types"
)

// ToolHandler executes one model-requested tool call. The returned string is
// fed back to the model verbatim.
type ToolHandler func(ctx context.Context, input map[string]interface{}) (string, error)

// ToolRegistry maps tool names to handlers. The model addresses tools by
// string name; inputs are validated against the declared required keys
// before dispatch.
type ToolRegistry struct {
	defs     []types.ToolDefinition
	handlers map[string]ToolHandler
	required map[string][]string
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		handlers: make(map[string]ToolHandler),
		required: make(map[string][]string),
	}
}

// Register adds a tool. required lists the input keys that must be present
// for the handler to run.
func (r *ToolRegistry) Register(def types.ToolDefinition, required []string, handler ToolHandler) {
	r.defs = append(r.defs, def)
	r.handlers[def.Name] = handler
	r.required[def.Name] = required
}

// Definitions returns the tool declarations offered to the model.
func (r *ToolRegistry) Definitions() []types.ToolDefinition {
	return r.defs
}

// Names returns the registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch validates and executes one tool call, converting failures into
// error results the model can react to.
func (r *ToolRegistry) Dispatch(ctx context.Context, call types.ToolCall) types.ToolResult {
	result := types.ToolResult{ID: call.ID, Name: call.Name}

	handler, ok := r.handlers[call.Name]
	if !ok {
		result.IsError = true
		result.Content = fmt.Sprintf("unknown tool %q; available tools: %v", call.Name, r.Names())
		logging.ArchitectDebug("Dispatch: unknown tool %q requested", call.Name)
		return result
	}
	for _, key := range r.required[call.Name] {
		if _, present := call.Input[key]; !present {
			result.IsError = true
			result.Content = fmt.Sprintf("missing required argument %q for tool %q", key, call.Name)
			return result
		}
	}

	content, err := handler(ctx, call.Input)
	if err != nil {
		result.IsError = true
		result.Content = err.Error()
		return result
	}
	result.Content = content
	return result
}

// objectSchema builds a minimal JSON schema for a tool's input object.
func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

package cycle

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ToolExecutor runs one tool invocation and returns the observation text fed
// back into the reasoning history.
type ToolExecutor func(ctx context.Context, params map[string]interface{}) (string, error)

// ToolDefinition describes a tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Params      []string
}

// RegisteredTool pairs a definition with its executor. A nil executor marks a
// declaration-only tool whose invocation the orchestrator intercepts.
type RegisteredTool struct {
	Definition ToolDefinition
	Executor   ToolExecutor
}

// Registry manages the tool set offered to the model. Registration order is
// preserved so the prompt renders tools deterministically.
type Registry struct {
	order []string
	tools map[string]*RegisteredTool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*RegisteredTool)}
}

// Register adds or replaces a tool. Re-registering keeps the original position.
func (r *Registry) Register(tool RegisteredTool) {
	name := tool.Definition.Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = &tool
}

// Get returns a registered tool by name, or nil if not found.
func (r *Registry) Get(name string) *RegisteredTool {
	return r.tools[name]
}

// Definitions returns all tool definitions in registration order.
func (r *Registry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Dispatch executes the named tool and returns its observation. Unknown
// tools and executor failures come back as an error observation plus a
// non-nil error, letting the caller count the failure while still feeding
// text back to the model.
func (r *Registry) Dispatch(ctx context.Context, req ActionRequest) (string, error) {
	tool := r.tools[req.Tool]
	if tool == nil || tool.Executor == nil {
		err := fmt.Errorf("unknown tool %q", req.Tool)
		return fmt.Sprintf("Error: Unknown tool '%s'. Available tools: %s", req.Tool, strings.Join(r.Names(), ", ")), err
	}
	observation, err := tool.Executor(ctx, req.Parameters)
	if err != nil {
		return fmt.Sprintf("Error executing %s: %v", req.Tool, err), err
	}
	return observation, nil
}

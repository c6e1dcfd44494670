// Package tools holds the registry of tools offered to the model and
// dispatches the model's tool calls against it.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Handler executes a tool with decoded arguments and returns its text
// output.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Server      string         `json:"server,omitempty"` // originating MCP server, if any
	Handler     Handler        `json:"-"`

	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
}

// Registry holds available tools. It is safe for concurrent use once
// populated.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Names are unique; registering a name twice is
// an error and leaves the first registration in place.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("register tool %s: nil handler", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("register tool %s: already registered", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List returns all tools for the LLM in OpenAI function format, in
// registration order.
func (r *Registry) List() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return result
}

// ByServer groups tool names by originating server. Tools without a
// server are grouped under "".
func (r *Registry) ByServer() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string)
	for _, name := range r.order {
		s := r.tools[name].Server
		out[s] = append(out[s], name)
	}
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}

// Execute validates args against the tool's schema and runs it.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.Get(name)
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	if args == nil {
		args = map[string]any{}
	}

	if err := tool.validate(args); err != nil {
		return "", err
	}

	return tool.Handler(ctx, args)
}

// validate checks args against Parameters. Tools without a schema, or
// with a schema that does not compile, accept anything; the server is
// the final authority on its own input.
func (t *Tool) validate(args map[string]any) error {
	if len(t.Parameters) == 0 {
		return nil
	}

	t.schemaOnce.Do(func() {
		t.schema, t.schemaErr = gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.Parameters))
	})
	if t.schemaErr != nil {
		return nil
	}

	result, err := t.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("validate arguments for %s: %w", t.Name, err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return &ValidationError{ToolName: t.Name, Problems: problems}
}

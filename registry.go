package rustmcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// ToolHandler executes one tool invocation. The args have already been
// validated against the tool's input schema when the handler runs. A
// returned error is surfaced as a protocol-level internal error unless it is
// a ResponseError carrying its own code.
type ToolHandler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool describes one invocable unit of work: a unique name, a human-readable
// description, the schema its arguments must satisfy, and the handler that
// does the work.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Handler     ToolHandler
}

// ToolInfo is the wire form of a tool, as returned by tools/list.
type ToolInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"inputSchema,omitempty"`
}

// Resource is a named piece of static data exposed via resources/list.
type Resource struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URI         string `json:"uri"`
	MimeType    string `json:"mimeType,omitempty"`
	Text        string `json:"text,omitempty"`
}

// Registry is the lookup table the dispatcher resolves tool and resource
// names against. It is populated during startup and read-only afterwards, so
// lookups need no locking. Input schemas are compiled once at registration.
type Registry struct {
	tools     map[string]registeredTool
	order     []string
	resources []Resource
}

type registeredTool struct {
	tool     Tool
	resolved *jsonschema.Resolved
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]registeredTool),
	}
}

// Register adds a tool to the registry. It must only be called during
// startup, before the registry is handed to a Server. Registering a
// duplicate name or a tool without a handler is a programming error and is
// reported as one.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}
	if _, ok := r.tools[t.Name]; ok {
		return fmt.Errorf("tool %q is already registered", t.Name)
	}

	var resolved *jsonschema.Resolved
	if t.InputSchema != nil {
		var err error
		resolved, err = t.InputSchema.Resolve(nil)
		if err != nil {
			return fmt.Errorf("failed to resolve input schema for tool %q: %w", t.Name, err)
		}
	}

	r.tools[t.Name] = registeredTool{tool: t, resolved: resolved}
	r.order = append(r.order, t.Name)
	return nil
}

// AddResource adds a static resource to the registry. Startup only, like
// Register.
func (r *Registry) AddResource(res Resource) {
	r.resources = append(r.resources, res)
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	rt, ok := r.tools[name]
	return rt.tool, ok
}

// ValidateArguments checks args against the input schema of the named tool.
// Absent args are treated as an empty object so schemas without required
// properties accept calls with no arguments.
func (r *Registry) ValidateArguments(name string, args json.RawMessage) error {
	rt, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("tool %q is not registered", name)
	}
	if rt.resolved == nil {
		return nil
	}

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var instance any
	if err := json.Unmarshal(args, &instance); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}

	if err := rt.resolved.Validate(instance); err != nil {
		return fmt.Errorf("arguments do not match schema for tool %q: %w", name, err)
	}
	return nil
}

// Tools returns the registered tools in registration order, in wire form.
func (r *Registry) Tools() []ToolInfo {
	infos := make([]ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		rt := r.tools[name]
		infos = append(infos, ToolInfo{
			Name:        rt.tool.Name,
			Description: rt.tool.Description,
			InputSchema: rt.tool.InputSchema,
		})
	}
	return infos
}

// Resources returns the registered resources in registration order.
func (r *Registry) Resources() []Resource {
	return r.resources
}

// Package tools implements the built-in CloudWatch tools the
// orchestrator dispatches against: list_log_groups, fetch_logs,
// search_logs, and fetch_cached_result_chunk. Each tool exposes a
// JSON-Schema parameter definition validated before execution, per the
// tool registry contract.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/loglens/loglens/internal/llm"
)

// Handler executes one tool call against already-validated arguments
// and returns a JSON-serializable result.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

type registeredTool struct {
	def     llm.ToolDefinition
	schema  *jsonschema.Schema
	handler Handler
}

// Registry holds the set of tools available to a session's
// orchestrator.
type Registry struct {
	tools map[string]*registeredTool
	order []string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registeredTool)}
}

// Register compiles schemaJSON and adds (name, handler) to the
// registry. Panics on an invalid schema, since schemas are fixed
// program constants, not user input.
func (r *Registry) Register(name, description, schemaJSON string, handler Handler) {
	compiler := jsonschema.NewCompiler()
	resourceName := name + ".schema.json"
	if err := compiler.AddResource(resourceName, strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("tools: invalid schema for %s: %v", name, err))
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		panic(fmt.Sprintf("tools: compile schema for %s: %v", name, err))
	}

	r.tools[name] = &registeredTool{
		def: llm.ToolDefinition{
			Name:        name,
			Description: description,
			Parameters:  json.RawMessage(schemaJSON),
		},
		schema:  schema,
		handler: handler,
	}
	r.order = append(r.order, name)
}

// Definitions returns the tool definitions in registration order, for
// passing to the LLM adapter alongside a chat request.
func (r *Registry) Definitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].def)
	}
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Execute validates rawArgs against the tool's schema, decodes it to a
// map, and invokes the handler. Schema-validation failures and handler
// errors are both returned as plain errors; the caller (the tool
// dispatcher) is responsible for converting them into structured
// `{success:false, error:...}` results.
func (r *Registry) Execute(ctx context.Context, name string, rawArgs json.RawMessage) (map[string]any, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tools: unknown tool %q", name)
	}

	var args any
	if len(rawArgs) == 0 {
		args = map[string]any{}
	} else if err := json.Unmarshal(rawArgs, &args); err != nil {
		return nil, fmt.Errorf("tools: %s: invalid arguments JSON: %w", name, err)
	}

	if err := tool.schema.Validate(args); err != nil {
		return nil, fmt.Errorf("tools: %s: arguments failed schema validation: %w", name, err)
	}

	argMap, ok := args.(map[string]any)
	if !ok {
		argMap = map[string]any{}
	}

	return tool.handler(ctx, argMap)
}

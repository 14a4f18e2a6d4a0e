package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ExecutionKind classifies how a tool call may be dispatched.
type ExecutionKind string

const (
	// KindAuto tools execute immediately when the model requests them.
	KindAuto ExecutionKind = "auto"

	// KindConfirm tools have no directly reachable handler; an external
	// confirmation must approve the call, after which the registered
	// confirm implementation runs.
	KindConfirm ExecutionKind = "confirm"
)

// ConfirmFunc is a confirmation-gated tool implementation. It is held in a
// side table keyed by tool name and invoked only after an external
// confirmation flow approves the call.
type ConfirmFunc func(ctx context.Context, params json.RawMessage) (*ToolResult, error)

// ToolOption customizes a tool registration.
type ToolOption func(*toolEntry)

// WithMutating marks the tool as mutating shared session or task state.
// Rounds containing more than one call where any tool is mutating execute
// sequentially to keep state writes ordered.
func WithMutating() ToolOption {
	return func(e *toolEntry) {
		e.mutating = true
	}
}

type toolEntry struct {
	tool     Tool
	kind     ExecutionKind
	mutating bool
	confirm  ConfirmFunc
}

// ToolRegistry manages the tool catalog with thread-safe registration and
// lookup. The catalog advertised to the model always mirrors exactly what
// the executor can resolve.
type ToolRegistry struct {
	mu          sync.RWMutex
	tools       map[string]*toolEntry
	schemaCache sync.Map
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*toolEntry),
	}
}

// Register adds an auto-executing tool to the registry by its name.
// If a tool with the same name already exists, it is replaced.
func (r *ToolRegistry) Register(tool Tool, opts ...ToolOption) {
	r.register(tool, KindAuto, nil, opts...)
}

// RegisterConfirm adds a confirmation-gated tool. The tool itself is
// advertised to the model, but only impl is reachable, and only after the
// external confirmation flow approves a call.
func (r *ToolRegistry) RegisterConfirm(tool Tool, impl ConfirmFunc, opts ...ToolOption) {
	r.register(tool, KindConfirm, impl, opts...)
}

func (r *ToolRegistry) register(tool Tool, kind ExecutionKind, impl ConfirmFunc, opts ...ToolOption) {
	entry := &toolEntry{tool: tool, kind: kind, confirm: impl}
	for _, opt := range opts {
		opt(entry)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = entry
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return entry.tool, true
}

// Kind returns the execution kind for a registered tool.
func (r *ToolRegistry) Kind(name string) (ExecutionKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	if !ok {
		return "", false
	}
	return entry.kind, true
}

// IsMutating reports whether the named tool was registered as mutating.
func (r *ToolRegistry) IsMutating(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	return ok && entry.mutating
}

// ConfirmImpl returns the confirmation-gated implementation for a tool.
func (r *ToolRegistry) ConfirmImpl(name string) (ConfirmFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	if !ok || entry.confirm == nil {
		return nil, false
	}
	return entry.confirm, true
}

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// Validate checks params against the tool's declared JSON Schema. A nil
// return means the input is safe to hand to the handler. Schema compilation
// is cached per schema text.
func (r *ToolRegistry) Validate(name string, params json.RawMessage) error {
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("tool name exceeds maximum length of %d characters", MaxToolNameLength)
	}
	if len(params) > MaxToolParamsSize {
		return fmt.Errorf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)
	}

	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	schema := entry.tool.Schema()
	if len(schema) == 0 {
		return nil
	}

	compiled, err := r.compileSchema(schema)
	if err != nil {
		return fmt.Errorf("compile tool schema: %w", err)
	}

	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("decode tool parameters: %w", err)
	}
	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("invalid tool parameters: %w", err)
	}
	return nil
}

func (r *ToolRegistry) compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := r.schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	r.schemaCache.Store(key, compiled)
	return compiled, nil
}

// Execute runs an auto-kind tool by name with the given JSON parameters.
// The caller is expected to have validated params first; confirm-kind tools
// are not reachable through this path.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if entry.kind == KindConfirm {
		return nil, fmt.Errorf("%w: %s", ErrConfirmationRequired, name)
	}
	return entry.tool.Execute(ctx, params)
}

// AsLLMTools returns all registered tools as a slice for passing to LLM
// providers. Confirm-kind tools are advertised like any other; gating
// happens at execution time.
func (r *ToolRegistry) AsLLMTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, entry := range r.tools {
		tools = append(tools, entry.tool)
	}
	return tools
}

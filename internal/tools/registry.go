package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/paolomoz/nova/internal/llm"
	"github.com/paolomoz/nova/internal/runtime"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrUnknownTool is returned by Execute for names that are not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrToolDisabled is returned when policy forbids running a tool.
	ErrToolDisabled = errors.New("tool disabled by policy")
	// ErrInvalidInput wraps schema validation failures.
	ErrInvalidInput = errors.New("invalid tool input")
)

// Definition is the immutable declaration of a tool.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
	// Mutating tools change repository state.
	Mutating bool `json:"mutating"`
}

// Handler performs one tool invocation and returns its textual result.
type Handler func(ctx context.Context, input map[string]any, ec *ExecContext) (string, error)

type entry struct {
	def     Definition
	handler Handler
	schema  *jsonschema.Schema
}

// Registry maps tool names to definitions and handlers.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(def Definition, h Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if h == nil {
		return fmt.Errorf("tool %s: handler is nil", def.Name)
	}
	schema, err := compileSchema(def.Name, def.InputSchema)
	if err != nil {
		return fmt.Errorf("tool %s: compile input schema: %w", def.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[def.Name]; dup {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	r.tools[def.Name] = &entry{def: def, handler: h, schema: schema}
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister is Register for static catalogs.
func (r *Registry) MustRegister(def Definition, h Handler) {
	if err := r.Register(def, h); err != nil {
		panic(err)
	}
}

// Lookup returns the definition for name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return Definition{}, false
	}
	return e.def, true
}

// IsMutating reports whether name is a registered mutating tool.
func (r *Registry) IsMutating(name string) bool {
	def, ok := r.Lookup(name)
	return ok && def.Mutating
}

// Catalog returns the definitions policy allows, in registration order.
func (r *Registry) Catalog(policy *runtime.ToolPolicy) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		if policy.Enabled(name) {
			out = append(out, r.tools[name].def)
		}
	}
	return out
}

// Execute validates input and runs the named tool under its policy timeout.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any, ec *ExecContext) (string, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	var policy *runtime.ToolPolicy
	if ec != nil {
		policy = ec.Policy
	}
	if !policy.Enabled(name) {
		runtime.RecordDenial(ctx, name, "disabled")
		return "", fmt.Errorf("%w: %s", ErrToolDisabled, name)
	}
	if err := validateInput(e.schema, input); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if d := policy.Timeout(name); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	if ec == nil {
		ec = &ExecContext{}
	}
	recordToolCall(ctx, name)
	return e.handler(ctx, input, ec)
}

// LLMTools converts definitions to the provider-neutral declaration.
func LLMTools(defs []Definition) []llm.Tool {
	out := make([]llm.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.Tool{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema.Map()})
	}
	return out
}

// Checksum returns a deterministic hash of a catalog, used by clients to
// detect catalog changes.
func Checksum(defs []Definition) (string, error) {
	normalized, err := json.Marshal(defs)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

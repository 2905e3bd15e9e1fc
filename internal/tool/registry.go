package tool

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

type entry struct {
	desc   Descriptor
	tool   Tool
	schema *jsonschema.Schema
}

// Registry is the catalogue of available tools.
// It is instance-based (not global) for better testability. Registration
// happens at startup; once sealed, lookups take no lock.
type Registry struct {
	mu      sync.RWMutex
	sealed  atomic.Bool
	entries map[string]*entry
	order   []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
	}
}

// Register adds a tool to the registry.
// It returns ErrEmptyToolName, ErrNoCapabilities or ErrInvalidSchema for a
// malformed tool, ErrDuplicateTool if the name is taken and ErrRegistrySealed
// after Seal.
func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return ErrEmptyToolName
	}

	caps := t.Capabilities()
	if len(caps) == 0 {
		return fmt.Errorf("%w: %s", ErrNoCapabilities, name)
	}
	for _, c := range caps {
		if !c.Valid() {
			return fmt.Errorf("%w: %s declares %q", ErrNoCapabilities, name, c)
		}
	}

	raw := t.Schema()
	schema, err := compileSchema(name, raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSchema, name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, name)
	}
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}

	r.entries[name] = &entry{
		desc: Descriptor{
			Name:         name,
			Description:  t.Description(),
			Schema:       append(json.RawMessage(nil), raw...),
			Capabilities: append([]Capability(nil), caps...),
		},
		tool:   t,
		schema: schema,
	}
	r.order = append(r.order, name)
	return nil
}

// MustRegister is like Register but panics on error. Intended for static
// startup wiring only.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Seal freezes the registry. Further Register calls fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed.Store(true)
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

func (r *Registry) lookup(name string) (*entry, bool) {
	if r.sealed.Load() {
		e, ok := r.entries[name]
		return e, ok
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Resolve returns the descriptor and implementation registered under name,
// or ErrUnknownTool.
func (r *Registry) Resolve(name string) (Descriptor, Tool, error) {
	e, ok := r.lookup(name)
	if !ok {
		return Descriptor{}, nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return e.desc, e.tool, nil
}

// ValidateArguments checks args against the parameter schema of the named tool.
// It returns ErrUnknownTool or ErrInvalidArguments.
func (r *Registry) ValidateArguments(name string, args json.RawMessage) error {
	e, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return validateArguments(e.schema, args)
}

// Descriptors returns all descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].desc)
	}
	return out
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	return len(r.order)
}

package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/owliabot/owliabot/internal/messages"
)

// Registry is the process-wide mapping from tool name to ToolDefinition.
// It is read-mostly: mutated only at startup or by the MCP manager when
// dynamically adding/removing remote tools. The loop and executor only
// ever read a snapshot (via List/SchemasFor) for the duration of one
// turn, so a registration mid-turn cannot corrupt an in-flight call.
//
// Modeled as an arena+handle to avoid a registry↔tool-context cycle: the
// Registry owns every ToolDefinition; tools receive only a borrowed
// ToolContext and may look themselves up again through a Registry handle
// passed in their Config, never through ownership of the Registry itself.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolDefinition
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ToolDefinition)}
}

// Register adds or replaces a tool. Names must be non-empty; empty names
// are rejected rather than silently accepted.
func (r *Registry) Register(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tools: registry: tool name must not be empty")
	}
	if def.Execute == nil {
		return fmt.Errorf("tools: registry: tool %q has no Execute function", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = def
	return nil
}

// Unregister removes a tool by name (used by the MCP manager when a
// remote server disconnects).
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get looks up a tool by exact name.
func (r *Registry) Get(name string) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// List returns every registered tool name, sorted for deterministic
// iteration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolSchema converts one registered tool into the provider-agnostic
// schema shape.
func (r *Registry) ToolSchema(name string) (messages.ToolSchema, bool) {
	def, ok := r.Get(name)
	if !ok {
		return messages.ToolSchema{}, false
	}
	return ToProviderSchema(def), true
}

// ToProviderSchema converts a ToolDefinition into the shape sent to
// provider adapters.
func ToProviderSchema(def ToolDefinition) messages.ToolSchema {
	return messages.ToolSchema{
		Name:        def.Name,
		Description: def.Description,
		Parameters:  def.Parameters,
	}
}

// SchemasFor returns the provider-agnostic schemas for a set of tool
// names, skipping any name the registry no longer has registered. This is
// the snapshot the loop reads once per turn.
func (r *Registry) SchemasFor(names []string) []messages.ToolSchema {
	out := make([]messages.ToolSchema, 0, len(names))
	for _, n := range names {
		if s, ok := r.ToolSchema(n); ok {
			out = append(out, s)
		}
	}
	return out
}

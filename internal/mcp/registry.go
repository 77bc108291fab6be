package mcp

import (
	"fmt"
	"sort"
	"sync"

	lenserr "github.com/codelens-ai/codelens/internal/errors"
)

// Registry is a name-unique set of tools. Registration and lookup are safe
// for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, rejecting empty and duplicate names.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return lenserr.ValidationError("tool must not be nil", nil)
	}
	name := tool.Name()
	if name == "" {
		return lenserr.ValidationError("tool name must not be empty", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return lenserr.New(lenserr.ErrCodeDuplicateTool,
			fmt.Sprintf("tool %q is already registered", name), nil)
	}
	r.tools[name] = tool
	return nil
}

// Get returns the named tool or a not-found error.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, lenserr.NotFoundError(fmt.Sprintf("tool %q is not registered", name))
	}
	return tool, nil
}

// List returns registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

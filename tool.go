package tandem

import (
	"context"
	"encoding/json"
	"sync"
)

// Tool defines an agent capability with one or more tool functions.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
	// EndTurn stops the prompt loop after this call. The reply tool sets it
	// because its text has already been delivered.
	EndTurn bool `json:"-"`
}

// ToolServer holds registered tools and dispatches execution by name.
// Tools may be added and removed while other goroutines execute.
type ToolServer struct {
	mu     sync.RWMutex
	byName map[string]Tool
	order  []string
}

// NewToolServer creates an empty server, optionally pre-loaded with tools.
// Duplicate names among the initial tools panic.
func NewToolServer(tools ...Tool) *ToolServer {
	s := &ToolServer{byName: make(map[string]Tool)}
	if err := s.Add(tools...); err != nil {
		panic(err)
	}
	return s
}

// Add registers every function of every tool. It is all-or-nothing: if any
// name is already registered (or repeated in the call), nothing is added and
// a *ToolExistsError is returned.
func (s *ToolServer) Add(tools ...Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for _, t := range tools {
		for _, d := range t.Definitions() {
			if _, ok := s.byName[d.Name]; ok || seen[d.Name] {
				return &ToolExistsError{Name: d.Name}
			}
			seen[d.Name] = true
		}
	}
	for _, t := range tools {
		for _, d := range t.Definitions() {
			s.byName[d.Name] = t
			s.order = append(s.order, d.Name)
		}
	}
	return nil
}

// Remove unregisters tool functions by name. Names that are present are
// removed even if others are missing; the first missing name is reported as
// a *ToolNotFoundError.
func (s *ToolServer) Remove(names ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missing error
	for _, name := range names {
		if _, ok := s.byName[name]; !ok {
			if missing == nil {
				missing = &ToolNotFoundError{Name: name}
			}
			continue
		}
		delete(s.byName, name)
		for i, n := range s.order {
			if n == name {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	return missing
}

// Has reports whether name is registered.
func (s *ToolServer) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byName[name]
	return ok
}

// Definitions returns tool definitions in registration order.
func (s *ToolServer) Definitions() []ToolDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(s.order))
	for _, name := range s.order {
		for _, d := range s.byName[name].Definitions() {
			if d.Name == name {
				defs = append(defs, d)
				break
			}
		}
	}
	return defs
}

// Execute dispatches a tool call by name.
func (s *ToolServer) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	s.mu.RLock()
	t, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return ToolResult{Error: "unknown tool: " + name}, nil
	}
	return t.Execute(ctx, name, args)
}

// Package tool implements the capability registry. Tools are grouped, and
// a group's eligibility is evaluated at query time from its declared
// preconditions, so a capability whose credentials disappear stops being
// offered without a restart.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"aide/internal/domain"
)

// Registry holds registered tools and their group declarations.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	groups *GroupSet
	logger *slog.Logger
}

func NewRegistry(groups *GroupSet, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if groups == nil {
		groups = NewGroupSet(nil)
	}
	return &Registry{
		tools:  make(map[string]domain.Tool),
		groups: groups,
		logger: logger,
	}
}

// Register adds a tool. Registration happens at startup; duplicate names
// are a wiring bug.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = t
	r.logger.Debug("tool registered", "name", name, "group", t.Group())
	return nil
}

// EligibleTools returns the tools whose group preconditions currently
// hold, in stable name order.
func (r *Registry) EligibleTools() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Tool
	for _, t := range r.tools {
		if r.groups.Eligible(t.Group()) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Definitions returns model-facing schemas for the currently eligible
// tools.
func (r *Registry) Definitions() []domain.ToolDefinition {
	eligible := r.EligibleTools()
	defs := make([]domain.ToolDefinition, 0, len(eligible))
	for _, t := range eligible {
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// IsReadOnly reports whether the named tool belongs to a read-only group.
// Unknown tools are not read-only.
func (r *Registry) IsReadOnly(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return false
	}
	return r.groups.ReadOnly(t.Group())
}

// Invoke executes the named tool. A tool that is unregistered or whose
// group is currently ineligible yields ErrToolNotAvailable; a tool that
// runs and fails yields a Success=false result without an error, so the
// caller can surface the failure to the model and continue.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (domain.ToolResult, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok || !r.groups.Eligible(t.Group()) {
		return domain.ToolResult{}, fmt.Errorf("%w: %s", domain.ErrToolNotAvailable, name)
	}

	result, err := t.Execute(ctx, args)
	if err != nil {
		r.logger.Warn("tool execution failed", "name", name, "error", err)
		return domain.ToolResult{
			ToolName: name,
			Success:  false,
			Output:   fmt.Sprintf("tool %s failed: %v", name, err),
		}, nil
	}
	result.ToolName = name
	return result, nil
}

// ArgsString extracts a string argument, returning fallback when absent or
// of the wrong type.
func ArgsString(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return fallback
}

// ArgsInt extracts an integer argument. JSON numbers arrive as float64.
func ArgsInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

// ParseArguments decodes a raw JSON argument payload. Malformed payloads
// yield an empty argument set rather than aborting the call.
func ParseArguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

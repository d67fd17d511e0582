package domain

import "context"

// Tool is a registered capability. Group names the capability group the tool
// belongs to; eligibility is derived from the group's declared preconditions
// and evaluated by the registry at query time.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Group() string
	Execute(ctx context.Context, args map[string]any) (ToolResult, error)
}

// ToolResult is produced once per tool invocation; immutable. A failed
// execution is reported as Success=false rather than an error so the
// pipeline loop can continue.
type ToolResult struct {
	ToolName string
	Success  bool
	Output   string
	Raw      any
}

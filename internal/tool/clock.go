package tool

import (
	"context"
	"time"

	"aide/internal/domain"
)

// ClockTool reports the current date and time in the assistant's timezone.
type ClockTool struct {
	location *time.Location
}

func NewClockTool(loc *time.Location) *ClockTool {
	if loc == nil {
		loc = time.Local
	}
	return &ClockTool{location: loc}
}

func (t *ClockTool) Name() string { return "current_time" }

func (t *ClockTool) Description() string {
	return "Get the current date, time, and weekday."
}

func (t *ClockTool) Group() string { return "clock" }

func (t *ClockTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *ClockTool) Execute(_ context.Context, _ map[string]any) (domain.ToolResult, error) {
	now := time.Now().In(t.location)
	return domain.ToolResult{
		Success: true,
		Output:  now.Format("Monday, 2 January 2006 15:04 MST"),
	}, nil
}

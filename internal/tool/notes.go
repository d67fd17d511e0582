package tool

import (
	"context"
	"fmt"
	"strings"

	"aide/internal/domain"
)

// NoteStore is the slice of the memory layer the note tools need.
type NoteStore interface {
	SaveNote(ctx context.Context, text string) error
	SearchNotes(ctx context.Context, query string, limit int) ([]string, error)
}

// SaveNoteTool persists a short note to memory. It is the mutating half of
// the "notes" group.
type SaveNoteTool struct {
	store NoteStore
}

func NewSaveNoteTool(store NoteStore) *SaveNoteTool { return &SaveNoteTool{store: store} }

func (t *SaveNoteTool) Name() string { return "save_note" }

func (t *SaveNoteTool) Description() string {
	return "Save a note or fact about the user for later recall."
}

func (t *SaveNoteTool) Group() string { return "notes" }

func (t *SaveNoteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "The note text to remember",
			},
		},
		"required": []string{"text"},
	}
}

func (t *SaveNoteTool) Execute(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	text := strings.TrimSpace(ArgsString(args, "text", ""))
	if text == "" {
		return domain.ToolResult{}, fmt.Errorf("note text is required")
	}
	if err := t.store.SaveNote(ctx, text); err != nil {
		return domain.ToolResult{}, fmt.Errorf("save note: %w", err)
	}
	return domain.ToolResult{Success: true, Output: "Note saved."}, nil
}

// SearchNotesTool looks up previously saved notes. Read-only.
type SearchNotesTool struct {
	store NoteStore
}

func NewSearchNotesTool(store NoteStore) *SearchNotesTool { return &SearchNotesTool{store: store} }

func (t *SearchNotesTool) Name() string { return "search_notes" }

func (t *SearchNotesTool) Description() string {
	return "Search previously saved notes by topic or keyword."
}

func (t *SearchNotesTool) Group() string { return "notes" }

func (t *SearchNotesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "What to look for",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum notes to return (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchNotesTool) Execute(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	query := strings.TrimSpace(ArgsString(args, "query", ""))
	if query == "" {
		return domain.ToolResult{}, fmt.Errorf("query is required")
	}
	limit := ArgsInt(args, "limit", 5)

	notes, err := t.store.SearchNotes(ctx, query, limit)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("search notes: %w", err)
	}
	if len(notes) == 0 {
		return domain.ToolResult{Success: true, Output: "No matching notes."}, nil
	}
	return domain.ToolResult{
		Success: true,
		Output:  "- " + strings.Join(notes, "\n- "),
		Raw:     notes,
	}, nil
}

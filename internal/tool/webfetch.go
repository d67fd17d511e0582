package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"aide/internal/domain"
	"aide/internal/security"
)

const webFetchBodyLimit = 512 * 1024

// WebFetchTool retrieves a URL and returns its readable text. It belongs
// to the read-only "web" group.
type WebFetchTool struct {
	client    *http.Client
	sanitizer *security.Sanitizer
}

func NewWebFetchTool(sanitizer *security.Sanitizer) *WebFetchTool {
	return &WebFetchTool{
		client:    &http.Client{Timeout: 30 * time.Second},
		sanitizer: sanitizer,
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a web page by URL and return its readable text content."
}

func (t *WebFetchTool) Group() string { return "web" }

func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Absolute http or https URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	rawURL := ArgsString(args, "url", "")
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return domain.ToolResult{}, fmt.Errorf("invalid url: %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.ToolResult{}, err
	}
	req.Header.Set("User-Agent", "aide/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.ToolResult{}, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchBodyLimit))
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("read %s: %w", rawURL, err)
	}

	text := t.sanitizer.SanitizeHTMLBody(string(body), security.MaxSnapshotLength)
	return domain.ToolResult{
		Success: true,
		Output:  text,
	}, nil
}

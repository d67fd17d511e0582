package pipeline

import (
	"encoding/json"
	"strings"
)

// parseStringArray extracts a JSON array of strings from model output. The
// model may wrap the array in prose or code fences; the first balanced
// array found is used.
func parseStringArray(text string) []string {
	text = stripCodeFence(text)

	var items []string
	if err := json.Unmarshal([]byte(text), &items); err == nil {
		return items
	}

	if start, end := findJSONBounds(text, '[', ']'); start >= 0 {
		if err := json.Unmarshal([]byte(text[start:end]), &items); err == nil {
			return items
		}
	}
	return nil
}

// parseStringMap extracts a JSON object with string values, tolerating
// surrounding prose. Non-string values are coerced to their string form.
func parseStringMap(text string) map[string]string {
	text = stripCodeFence(text)

	tryParse := func(s string) map[string]string {
		var raw map[string]any
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return nil
		}
		out := make(map[string]string, len(raw))
		for k, v := range raw {
			switch val := v.(type) {
			case string:
				out[k] = val
			default:
				b, _ := json.Marshal(v)
				out[k] = string(b)
			}
		}
		return out
	}

	if m := tryParse(text); m != nil {
		return m
	}
	if start, end := findJSONBounds(text, '{', '}'); start >= 0 {
		if m := tryParse(text[start:end]); m != nil {
			return m
		}
	}
	return nil
}

// stripCodeFence removes a surrounding markdown code fence if present.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) >= 3 && strings.HasPrefix(lines[len(lines)-1], "```") {
		return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
	}
	return text
}

// findJSONBounds locates the first balanced open..close region in s,
// string-literal aware. Returns the start index and end+1 index, or
// (-1, -1) if not found.
func findJSONBounds(s string, open, close byte) (int, int) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return -1, -1
	}

	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			if ch == '\\' {
				i++
				continue
			}
			if ch == '"' {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}

package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// GetByPath reads a config value by dot-separated path, e.g.
// "heartbeat.intervalMinutes" or "model.providers.openai.chatModel".
func GetByPath(cfg *Config, path string) (interface{}, error) {
	raw, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	current := interface{}(raw)
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			val, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("unknown config path: %s", path)
			}
			current = val
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("invalid index %q in config path: %s", part, path)
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("config path %s descends into a scalar", path)
		}
	}
	return current, nil
}

// SetByPath writes a config value by dot-separated path, then re-validates
// the whole config. The value is parsed as JSON when possible so numbers
// and booleans keep their type; otherwise it is treated as a string.
func SetByPath(cfg *Config, path, value string) error {
	raw, err := toMap(cfg)
	if err != nil {
		return err
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}

	parts := strings.Split(path, ".")
	current := raw
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = parsed

	updated := Defaults()
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("cannot marshal updated config: %w", err)
	}
	if err := json.Unmarshal(data, updated); err != nil {
		return fmt.Errorf("value does not fit config field %s: %w", path, err)
	}
	if err := Validate(updated); err != nil {
		return err
	}

	*cfg = *updated
	return nil
}

// secretKeywords marks config keys whose values are masked in output.
var secretKeywords = []string{"token", "key", "secret", "password"}

// Sanitize returns a copy of the config as a map with secret values masked,
// safe for printing.
func Sanitize(cfg *Config) (map[string]interface{}, error) {
	raw, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	maskSecrets(raw)
	return raw, nil
}

func maskSecrets(node map[string]interface{}) {
	for key, val := range node {
		switch v := val.(type) {
		case map[string]interface{}:
			maskSecrets(v)
		case string:
			if v == "" {
				continue
			}
			lower := strings.ToLower(key)
			for _, kw := range secretKeywords {
				if strings.Contains(lower, kw) {
					node[key] = mask(v)
					break
				}
			}
		}
	}
}

func mask(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// ListPaths returns every leaf config path in sorted order, for
// `aide config list`.
func ListPaths(cfg *Config) ([]string, error) {
	raw, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	var paths []string
	collectPaths("", raw, &paths)
	sort.Strings(paths)
	return paths, nil
}

func collectPaths(prefix string, node map[string]interface{}, out *[]string) {
	for key, val := range node {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if child, ok := val.(map[string]interface{}); ok && len(child) > 0 {
			collectPaths(path, child, out)
		} else {
			*out = append(*out, path)
		}
	}
}

func toMap(cfg *Config) (map[string]interface{}, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal config: %w", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("cannot unmarshal config: %w", err)
	}
	return raw, nil
}

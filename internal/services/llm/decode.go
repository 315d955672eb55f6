package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DecodeJSON parses a model response into target. Models occasionally wrap
// their JSON in markdown code fences or prose even in JSON mode, so the
// decoder strips fences and falls back to the outermost JSON value before
// giving up.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("llm decode: empty content")
	}

	candidates := []string{trimmed}
	if fenced := stripCodeFence(trimmed); fenced != trimmed {
		candidates = append(candidates, fenced)
	}
	if extracted := extractJSON(trimmed); extracted != "" && extracted != trimmed {
		candidates = append(candidates, extracted)
	}

	var lastErr error
	for _, candidate := range candidates {
		if err := json.Unmarshal([]byte(candidate), target); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("llm decode: no parsable JSON in response: %w", lastErr)
}

func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	body := content
	if idx := strings.Index(body, "\n"); idx >= 0 {
		body = body[idx+1:]
	} else {
		body = strings.TrimPrefix(body, "```")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

// extractJSON returns the outermost balanced JSON object or array embedded in
// content, or "" when none exists.
func extractJSON(content string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(content); i++ {
		if content[i] == '{' || content[i] == '[' {
			start = i
			open = content[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}

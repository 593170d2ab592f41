package ai

import (
	"encoding/json"
	"strings"
)

// ParseStructured extracts a JSON object from free-form backend text and
// unmarshals it into out. Backends wrap payloads in code fences or add
// commentary; anything outside the outermost braces is discarded. Any
// deviation is a soft failure: the function reports false and out is
// left untouched, never an error the caller has to handle.
func ParseStructured(text string, out any) bool {
	cleaned := stripFences(text)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end <= start {
		return false
	}

	dec := json.NewDecoder(strings.NewReader(cleaned[start : end+1]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return false
	}
	return true
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	// Drop the language tag on the opening fence, if any.
	if idx := strings.Index(text, "\n"); idx != -1 {
		first := strings.TrimSpace(text[:idx])
		if first != "" && !strings.Contains(first, "{") {
			text = text[idx+1:]
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

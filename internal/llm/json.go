// Package llm - json.go provides shared utilities for LLM response processing.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CleanJSONBlock removes markdown code block wrappers from JSON responses.
// LLMs often wrap JSON in ```json ... ``` blocks even when instructed not to.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	// Handle ```json ... ``` blocks
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	// Handle generic ``` ... ``` blocks
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// Skip potential language identifier on first line
		if idx := strings.Index(text, "\n"); idx >= 0 {
			firstLine := text[:idx]
			if len(firstLine) < 20 && !strings.Contains(firstLine, " ") && !strings.Contains(firstLine, "{") {
				text = text[idx+1:]
			}
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	return text
}

// DecodeJSON strips optional markdown fences from an LLM response and decodes
// the remaining text as strict JSON into out. Every structured-response path
// goes through this single function; a response that is neither bare JSON nor
// a fenced JSON block is an error.
func DecodeJSON(text string, out any) error {
	cleaned := CleanJSONBlock(text)
	if cleaned == "" {
		return &ParseError{Message: "empty response"}
	}

	decoder := json.NewDecoder(strings.NewReader(cleaned))
	if err := decoder.Decode(out); err != nil {
		return &ParseError{
			Message: fmt.Sprintf("response is not valid JSON (%d chars)", len(cleaned)),
			Cause:   err,
		}
	}
	return nil
}

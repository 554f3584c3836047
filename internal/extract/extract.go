// Package extract isolates the structured record embedded in free-form model output.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/TobiSchelling/marketaudit/internal/audit"
)

// ErrExtraction reports that no structured record could be isolated from model output.
var ErrExtraction = errors.New("structured output extraction failed")

const fence = "```"

// Extract slices the structured part out of raw model output and parses it as a
// JSON object. A json-tagged fenced block wins over any other fenced block; with no
// fence the whole text is parsed. Partial or non-object output is a failure.
func Extract(raw string) (audit.Record, error) {
	text := strings.TrimSpace(slice(raw))
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrExtraction)
	}

	var record audit.Record
	if err := json.Unmarshal([]byte(text), &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: not an object", ErrExtraction)
	}
	return record, nil
}

// Text returns free-form document output with one enclosing markdown fence removed.
func Text(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, fence) {
		if block, ok := firstBlock(text, isDocumentTag); ok {
			text = strings.TrimSpace(block)
		}
	}
	if text == "" {
		return "", fmt.Errorf("%w: empty document", ErrExtraction)
	}
	return text, nil
}

func slice(raw string) string {
	if block, ok := firstBlock(raw, isJSONTag); ok {
		return block
	}
	if block, ok := firstBlock(raw, func(string) bool { return true }); ok {
		return block
	}
	return raw
}

// firstBlock returns the interior of the first fenced block whose opening fence tag
// satisfies match. An unterminated fence runs to the end of the text.
func firstBlock(text string, match func(tag string) bool) (string, bool) {
	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		opening := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(opening, fence) {
			continue
		}

		end := len(lines)
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == fence {
				end = j
				break
			}
		}

		tag := strings.TrimSpace(strings.TrimPrefix(opening, fence))
		if match(tag) {
			return strings.Join(lines[i+1:end], "\n"), true
		}
		i = end
	}
	return "", false
}

func isJSONTag(tag string) bool {
	return strings.EqualFold(tag, "json")
}

func isDocumentTag(tag string) bool {
	switch strings.ToLower(tag) {
	case "", "markdown", "md":
		return true
	}
	return false
}

package scanning

import (
	"errors"
	"strings"
)

var errEmptyResponse = errors.New("empty response from extraction service")

// cleanResponse strips markdown code fences that language models like to wrap
// JSON in. Anything else is kept verbatim.
func cleanResponse(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}

// internal/llmutil/parser.go
package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// ErrNoJSON is returned when a model response contains nothing that looks like JSON.
var ErrNoJSON = errors.New("no JSON found in model response")

// fencedBlock matches a markdown code fence, optionally tagged json.
// \x60 is a backtick, which raw strings cannot hold.
var fencedBlock = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*(.*?)\\s*\x60\x60\x60")

// ExtractJSON pulls the JSON payload out of a model response. Fenced blocks
// win; otherwise the outermost object, then the outermost array, is cut out
// of the surrounding prose.
func ExtractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)
	if m := fencedBlock.FindStringSubmatch(response); len(m) > 1 && strings.TrimSpace(m[1]) != "" {
		response = strings.TrimSpace(m[1])
	}
	if response == "" {
		return "", ErrNoJSON
	}
	if response[0] == '{' || response[0] == '[' {
		return response, nil
	}
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		first := strings.Index(response, pair[0])
		last := strings.LastIndex(response, pair[1])
		if first != -1 && last > first {
			return response[first : last+1], nil
		}
	}
	return "", ErrNoJSON
}

// ParseJSONResponse decodes a model response into T, tolerating markdown
// fences and conversational text around the payload.
func ParseJSONResponse[T any](response string) (*T, error) {
	payload, err := ExtractJSON(response)
	if err != nil {
		return nil, err
	}
	var result T
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model JSON response: %w (payload: %s)", err, truncate(payload, 500))
	}
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

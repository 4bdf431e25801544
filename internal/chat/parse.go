package chat

import (
	"bytes"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

// serverOutput is the shape a server action's tool output must have.
type serverOutput struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

// ParseInvocations extracts the action invocations from a completion
// response's tool results. Tools without an action prefix are ignored. Kind
// and Name are decided here, once.
func ParseInvocations(results []schemas.ToolResult) ([]schemas.ActionInvocation, error) {
	var out []schemas.ActionInvocation
	for _, tr := range results {
		inv, ok, err := parseInvocation(tr)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, inv)
		}
	}
	return out, nil
}

func parseInvocation(tr schemas.ToolResult) (schemas.ActionInvocation, bool, error) {
	inv := schemas.ActionInvocation{ToolName: tr.ToolName}
	switch {
	case strings.HasPrefix(tr.ToolName, schemas.ClientActionPrefix):
		inv.Kind = schemas.ActionKindClient
		inv.Name = strings.TrimPrefix(tr.ToolName, schemas.ClientActionPrefix)
	case strings.HasPrefix(tr.ToolName, schemas.ServerActionPrefix):
		inv.Kind = schemas.ActionKindServer
		inv.Name = strings.TrimPrefix(tr.ToolName, schemas.ServerActionPrefix)
	default:
		return inv, false, nil
	}
	if inv.Name == "" {
		return inv, false, fmt.Errorf("tool %q has no action name", tr.ToolName)
	}

	output, err := unwrapOutput(tr.Output)
	if err != nil {
		return inv, false, fmt.Errorf("invalid output for tool %s: %w", tr.ToolName, err)
	}

	if inv.Kind == schemas.ActionKindClient {
		if len(output) == 0 {
			return inv, true, nil
		}
		var fields map[string]any
		if err := json.Unmarshal(output, &fields); err != nil {
			return inv, false, fmt.Errorf("invalid output for tool %s: %w", tr.ToolName, err)
		}
		// Either {"functionName": ..., "args": {...}} or the arguments themselves.
		if fn, ok := fields["functionName"].(string); ok {
			inv.FunctionName = fn
			delete(fields, "functionName")
		}
		if args, ok := fields["args"].(map[string]any); ok {
			inv.Args = args
		} else if len(fields) > 0 {
			inv.Args = fields
		}
		return inv, true, nil
	}

	var so serverOutput
	if len(output) > 0 {
		if err := json.Unmarshal(output, &so); err != nil {
			return inv, false, fmt.Errorf("invalid output for tool %s: %w", tr.ToolName, err)
		}
	}
	if so.URL == "" {
		return inv, false, fmt.Errorf("server action %s has no url", inv.Name)
	}
	inv.URL = so.URL
	inv.Method = strings.ToUpper(strings.TrimSpace(so.Method))
	inv.Headers = so.Headers
	if len(so.Body) > 0 && !bytes.Equal(so.Body, []byte("null")) {
		inv.Body = append([]byte(nil), so.Body...)
	}
	return inv, true, nil
}

// unwrapOutput returns the JSON object in raw, decoding one level of string
// encoding if the backend sent the output as a JSON string.
func unwrapOutput(raw []byte) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] != '"' {
		return raw, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return []byte(s), nil
}

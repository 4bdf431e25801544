package automation

import (
	"context"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/llmutil"
)

const systemPrompt = `You operate a web page on behalf of a user. You receive the user's task and a
snapshot of the visible interactive elements on the page. Decide the single next action.

Respond with JSON only, shaped as {"action": {...}} where the action has a "type" of:
- "click": requires "selector".
- "input" or "type": requires "selector" and "value".
- "select": requires "selector" of a <select> element and the option "value".
- "scroll": either "x" and "y" for an absolute position, or "direction" (up, down, left, right) and an optional "amount" in pixels.
- "wait": optional "duration" in milliseconds.
- "navigate": requires "url".
- "complete": the task is done; put a short summary in "message".
- "error": the task cannot be done; put the reason in "message".
Always include a one sentence "reasoning". Use selectors exactly as they appear in the snapshot.`

// LLMInferrer asks a language model for the next action.
type LLMInferrer struct {
	client      schemas.LLMClient
	temperature float32
	logger      *zap.Logger
}

var _ Inferrer = (*LLMInferrer)(nil)

// NewLLMInferrer wraps client. temperature of zero leaves the client default.
func NewLLMInferrer(client schemas.LLMClient, temperature float32, logger *zap.Logger) *LLMInferrer {
	return &LLMInferrer{
		client:      client,
		temperature: temperature,
		logger:      logger.Named("llm_inferrer"),
	}
}

func (i *LLMInferrer) Infer(ctx context.Context, req *schemas.InferenceRequest) (*schemas.AutomationAction, error) {
	userPrompt, err := buildUserPrompt(req)
	if err != nil {
		return nil, err
	}

	raw, err := i.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Options: schemas.GenerationOptions{
			Temperature:     i.temperature,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("model generation failed: %w", err)
	}

	action, err := parseAction(raw)
	if err != nil {
		i.logger.Warn("Failed to parse model response", zap.String("raw_response", raw), zap.Error(err))
		return nil, err
	}
	return action, nil
}

func buildUserPrompt(req *schemas.InferenceRequest) (string, error) {
	if req == nil || req.DOMState == nil {
		return "", fmt.Errorf("inference request has no page snapshot")
	}
	snapshot, err := json.Marshal(req.DOMState)
	if err != nil {
		return "", fmt.Errorf("failed to marshal page snapshot: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n\n", req.Prompt)
	if len(req.History) > 0 {
		sb.WriteString("Steps taken so far:\n")
		for n, h := range req.History {
			status := "ok"
			if !h.Success {
				status = "failed: " + h.Error
			}
			fmt.Fprintf(&sb, "%d. %s %s (%s)\n", n+1, h.Action, h.Target, status)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Page snapshot:\n")
	sb.Write(snapshot)
	sb.WriteString("\n\nReturn the next action.")
	return sb.String(), nil
}

// parseAction accepts either {"action": {...}} or a bare action object.
func parseAction(raw string) (*schemas.AutomationAction, error) {
	wrapped, err := llmutil.ParseJSONResponse[schemas.InferenceResponse](raw)
	if err != nil {
		return nil, err
	}
	if wrapped.Action != nil && wrapped.Action.Type != "" {
		return wrapped.Action, nil
	}
	bare, err := llmutil.ParseJSONResponse[schemas.AutomationAction](raw)
	if err != nil || bare.Type == "" {
		return nil, ErrNoAction
	}
	return bare, nil
}

package schemas

import (
	"context"
)

// -- LLM Client Schemas & Interface --

// GenerationOptions controls sampling and output format of a generation call.
type GenerationOptions struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int32   `json:"max_output_tokens,omitempty"`
	ForceJSONFormat bool    `json:"force_json_format"` // Ask the model for a JSON response body.
}

// GenerationRequest is a single prompt pair sent to a language model.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient abstracts the language model provider behind the LLM inferrer.
type LLMClient interface {
	// Generate produces a text completion for req.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases any resources held by the client.
	Close() error
}

// -- Persistence --

// WorkflowStore keeps the step logs of finished automation runs.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, result *WorkflowResult) error
	GetWorkflow(ctx context.Context, runID string) (*WorkflowResult, error)
}

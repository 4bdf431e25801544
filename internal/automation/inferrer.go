package automation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/pagepilot/api/schemas"
	"go.uber.org/zap"
)

// ErrNoAction is returned when the inference service answers without an action.
var ErrNoAction = errors.New("no action returned from AI")

// maxErrorBody bounds how much of a failed response is quoted in errors.
const maxErrorBody = 512

// Inferrer turns a page snapshot and a task prompt into the next action.
type Inferrer interface {
	Infer(ctx context.Context, req *schemas.InferenceRequest) (*schemas.AutomationAction, error)
}

// HTTPInferrer calls an inference endpoint that accepts {domState, prompt}
// and answers {action}.
type HTTPInferrer struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

var _ Inferrer = (*HTTPInferrer)(nil)

// NewHTTPInferrer creates an inferrer for endpoint. A nil client uses http.DefaultClient.
func NewHTTPInferrer(endpoint string, client *http.Client, logger *zap.Logger) *HTTPInferrer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPInferrer{
		endpoint: endpoint,
		client:   client,
		logger:   logger.Named("http_inferrer"),
	}
}

func (i *HTTPInferrer) Infer(ctx context.Context, req *schemas.InferenceRequest) (*schemas.AutomationAction, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode inference request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build inference request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("inference endpoint returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out schemas.InferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode inference response: %w", err)
	}
	if out.Action == nil || out.Action.Type == "" {
		return nil, ErrNoAction
	}
	i.logger.Debug("Inferred action", zap.String("type", string(out.Action.Type)))
	return out.Action, nil
}

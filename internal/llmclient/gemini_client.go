// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/config"
)

// contentGenerator is the slice of the genai Models service the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements schemas.LLMClient on top of the Gemini API.
type GeminiClient struct {
	models contentGenerator
	cfg    config.InferenceConfig
	logger *zap.Logger

	// Retry policy for transient API failures.
	maxRetries      uint64
	initialInterval time.Duration
	maxElapsed      time.Duration
}

var _ schemas.LLMClient = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini client. cfg.Endpoint, when set, replaces
// the public API base URL. A nil httpClient lets the SDK build its own.
func NewGeminiClient(ctx context.Context, cfg config.InferenceConfig, httpClient *http.Client, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("a Gemini API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("a Gemini model name is required")
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions.BaseURL = cfg.Endpoint
	}
	if cfg.APITimeout > 0 {
		timeout := cfg.APITimeout
		cc.HTTPOptions.Timeout = &timeout
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		models:          client.Models,
		cfg:             cfg,
		logger:          logger.Named("llm_client.gemini"),
		maxRetries:      3,
		initialInterval: 500 * time.Millisecond,
		maxElapsed:      time.Minute,
	}, nil
}

// Generate sends the prompt pair to the configured model and returns the
// text of the first candidate. Rate limits and server errors are retried.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.UserPrompt, genai.RoleUser)}
	genConfig := c.buildConfig(req)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxElapsedTime = c.maxElapsed

	operation := func() (string, error) {
		start := time.Now()
		resp, err := c.models.GenerateContent(ctx, c.cfg.Model, contents, genConfig)
		if err != nil {
			return "", c.classifyError(err)
		}
		text, err := c.extractText(resp)
		if err != nil {
			return "", backoff.Permanent(err)
		}

		fields := []zap.Field{zap.Duration("duration", time.Since(start)), zap.String("model", c.cfg.Model)}
		if u := resp.UsageMetadata; u != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", u.PromptTokenCount),
				zap.Int32("completion_tokens", u.CandidatesTokenCount),
				zap.Int32("total_tokens", u.TotalTokenCount))
		}
		c.logger.Info("LLM generation complete (Gemini)", fields...)
		return text, nil
	}

	return backoff.RetryWithData(operation, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx))
}

// Close is a no-op; the SDK client holds no resources beyond its HTTP client.
func (c *GeminiClient) Close() error { return nil }

func (c *GeminiClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := req.Options.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}
	maxTokens := req.Options.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = int32(c.cfg.MaxTokens)
	}

	gc := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: maxTokens,
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Options.ForceJSONFormat {
		gc.ResponseMIMEType = "application/json"
	}
	return gc
}

func (c *GeminiClient) extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("gemini API blocked the prompt (reason: %s)", resp.PromptFeedback.BlockReason)
		}
		return "", errors.New("gemini API returned no candidates")
	}
	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonBlocklist:
		return "", fmt.Errorf("gemini API blocked the response (reason: %s)", candidate.FinishReason)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini API returned empty content (reason: %s)", candidate.FinishReason)
	}
	return text, nil
}

// classifyError marks everything except rate limiting and server errors as permanent.
func (c *GeminiClient) classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			c.logger.Warn("Transient Gemini API error, retrying.", zap.Int("status", apiErr.Code), zap.String("message", apiErr.Message))
			return fmt.Errorf("gemini API error: %w", err)
		}
		return backoff.Permanent(fmt.Errorf("gemini API error: %w", err))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	c.logger.Warn("Network error during LLM request, retrying.", zap.Error(err))
	return fmt.Errorf("gemini request failed: %w", err)
}

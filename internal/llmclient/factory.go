// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/config"
)

// NewClient creates the LLMClient for the configured inference provider.
// Only providers that talk to a language model directly are accepted here;
// the plain HTTP provider is served by automation.HTTPInferrer instead.
func NewClient(ctx context.Context, cfg config.InferenceConfig, httpClient *http.Client, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		client, err := NewGeminiClient(ctx, cfg, httpClient, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}

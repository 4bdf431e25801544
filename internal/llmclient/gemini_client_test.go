package llmclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest/observer"
)

const okResponse = `{
  "candidates": [{"content": {"role": "model", "parts": [{"text": "{\"action\":{\"type\":\"complete\"}}"}]}, "finishReason": "STOP"}],
  "usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 5, "totalTokenCount": 17}
}`

// -- Test Setup Helpers --

// setupGeminiClient points a GeminiClient at a mock HTTP server.
func setupGeminiClient(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *observer.ObservedLogs) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger, logs := setupTestLogger(t)
	cfg := getValidInferenceConfig()
	cfg.Endpoint = server.URL

	client, err := NewGeminiClient(context.Background(), cfg, server.Client(), logger)
	require.NoError(t, err, "NewGeminiClient initialization failed")
	client.initialInterval = time.Millisecond
	client.maxElapsed = 5 * time.Second
	return client, logs
}

// -- Test Cases: Initialization --

func TestNewGeminiClient_Validation(t *testing.T) {
	logger, _ := setupTestLogger(t)

	cfg := getValidInferenceConfig()
	cfg.APIKey = ""
	_, err := NewGeminiClient(context.Background(), cfg, nil, logger)
	assert.ErrorContains(t, err, "API key is required")

	cfg = getValidInferenceConfig()
	cfg.Model = ""
	_, err = NewGeminiClient(context.Background(), cfg, nil, logger)
	assert.ErrorContains(t, err, "model name is required")
}

// -- Test Cases: Generate --

func TestGenerate_Success(t *testing.T) {
	var captured map[string]any
	var path, apiKey string
	client, logs := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		apiKey = r.Header.Get("x-goog-api-key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, okResponse)
	})

	text, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)

	assert.Equal(t, `{"action":{"type":"complete"}}`, text)
	assert.True(t, strings.HasSuffix(path, "models/test-model:generateContent"), path)
	assert.Equal(t, "test-api-key", apiKey)

	require.Contains(t, captured, "systemInstruction")
	require.Contains(t, captured, "generationConfig")
	genConfig := captured["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", genConfig["responseMimeType"])
	assert.InDelta(t, 0.7, genConfig["temperature"], 1e-6)
	assert.EqualValues(t, 1024, genConfig["maxOutputTokens"])

	entries := logs.FilterMessage("LLM generation complete (Gemini)").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 17, entries[0].ContextMap()["total_tokens"])
}

func TestGenerate_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`)
			return
		}
		_, _ = io.WriteString(w, okResponse)
	})

	text, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerate_PermanentErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"bad request","status":"INVALID_ARGUMENT"}}`)
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini API error")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerate_BlockedResponse(t *testing.T) {
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"finishReason":"SAFETY"}]}`)
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	assert.ErrorContains(t, err, "blocked the response")
}

func TestGenerate_NoCandidates(t *testing.T) {
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	assert.ErrorContains(t, err, "no candidates")
}

func TestBuildConfig_FallsBackToConfiguredDefaults(t *testing.T) {
	logger, _ := setupTestLogger(t)
	client := &GeminiClient{cfg: getValidInferenceConfig(), logger: logger}

	gc := client.buildConfig(createTestRequest())
	assert.InDelta(t, 0.7, float64(*gc.Temperature), 1e-6)

	req := createTestRequest()
	req.Options.Temperature = 0
	req.Options.ForceJSONFormat = false
	req.SystemPrompt = ""
	gc = client.buildConfig(req)
	assert.InDelta(t, 0.2, float64(*gc.Temperature), 1e-6)
	assert.Equal(t, int32(1024), gc.MaxOutputTokens)
	assert.Empty(t, gc.ResponseMIMEType)
	assert.Nil(t, gc.SystemInstruction)
}

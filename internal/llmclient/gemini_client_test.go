package llmclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

// -- Test Setup Helpers --

// setupGeminiClient points a GeminiClient at a mock HTTP server and returns
// the client with a log observer.
func setupGeminiClient(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *observer.ObservedLogs) {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			t.Log("Warning: Unexpected HTTP request in test.")
			w.WriteHeader(http.StatusNotFound)
		}
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	loggerCore, observedLogs := observer.New(zap.InfoLevel)
	cfg := getValidLLMConfig()
	cfg.Endpoint = server.URL

	client, err := NewGeminiClient(cfg, zap.New(loggerCore))
	require.NoError(t, err, "NewGeminiClient initialization failed")
	client.httpClient.Timeout = 5 * time.Second
	client.backoffFactory = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Millisecond), 4)
	}
	return client, observedLogs
}

func writeCandidate(t *testing.T, w http.ResponseWriter, text string) {
	t.Helper()
	payload := GeminiResponsePayload{Candidates: []GeminiCandidate{{
		Content:      GeminiContent{Parts: []GeminiPart{{Text: text}}},
		FinishReason: "STOP",
	}}}
	payload.UsageMetadata.PromptTokenCount = 100
	payload.UsageMetadata.CandidatesTokenCount = 50
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(payload))
}

// -- Test Cases: Initialization --

// Verifies successful initialization and default endpoint configuration.
func TestNewGeminiClient_Success(t *testing.T) {
	cfg := getValidLLMConfig()
	cfg.Endpoint = ""

	client, err := NewGeminiClient(cfg, setupTestLogger(t))
	require.NoError(t, err)

	assert.Equal(t, cfg.APIKey, client.apiKey)
	assert.Equal(t, cfg.APITimeout, client.httpClient.Timeout)
	assert.Equal(t, fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model), client.endpoint)
	assert.NotNil(t, client.backoffFactory)
}

// Verifies the requirement for an API key.
func TestNewGeminiClient_MissingAPIKey(t *testing.T) {
	cfg := getValidLLMConfig()
	cfg.APIKey = ""
	client, err := NewGeminiClient(cfg, nil)
	assert.Nil(t, client)
	assert.ErrorContains(t, err, "Gemini API key is required")
}

// -- Test Cases: Request Payload --

// Verifies the structure and content of the generated payload.
func TestBuildRequestPayload_Standard(t *testing.T) {
	client, _ := setupGeminiClient(t, nil)
	client.config.MaxTokens = 2048
	client.config.SafetyFilters = map[string]string{"CAT_A": "BLOCK_LOW", "CAT_B": "BLOCK_HIGH"}

	req := createTestRequest()
	req.Options.Temperature = 0.5
	payload := client.buildRequestPayload(req)

	require.NotNil(t, payload.SystemInstruction)
	require.Len(t, payload.Contents, 1)
	assert.Equal(t, req.SystemPrompt, payload.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "user", payload.Contents[0].Role)
	assert.Equal(t, req.UserPrompt, payload.Contents[0].Parts[0].Text)

	assert.Equal(t, 0.5, payload.GenerationConfig.Temperature)
	assert.Equal(t, float32(0.9), payload.GenerationConfig.TopP)
	assert.Equal(t, 50, payload.GenerationConfig.TopK)
	assert.Equal(t, 2048, payload.GenerationConfig.MaxOutputTokens)
	assert.Empty(t, payload.GenerationConfig.ResponseMimeType)

	actualSafety := make(map[string]string)
	for _, setting := range payload.SafetySettings {
		actualSafety[setting.Category] = setting.Threshold
	}
	assert.Equal(t, client.config.SafetyFilters, actualSafety)
}

// Verifies images become inline_data parts and history turns follow the prompt.
func TestBuildRequestPayload_VisionAndHistory(t *testing.T) {
	client, _ := setupGeminiClient(t, nil)

	req := createTestRequest()
	req.Options.ForceJSONFormat = true
	req.Images = []schemas.ImagePart{{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}}
	req.History = []schemas.ChatTurn{
		{Role: "assistant", Content: "not json"},
		{Role: "user", Content: "Invalid JSON."},
	}
	payload := client.buildRequestPayload(req)

	assert.Equal(t, "application/json", payload.GenerationConfig.ResponseMimeType)
	require.Len(t, payload.Contents, 3)
	require.Len(t, payload.Contents[0].Parts, 2)
	inline := payload.Contents[0].Parts[1].InlineData
	require.NotNil(t, inline)
	assert.Equal(t, "image/png", inline.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'}), inline.Data)
	assert.Equal(t, "model", payload.Contents[1].Role)
	assert.Equal(t, "user", payload.Contents[2].Role)
}

// -- Test Cases: Generate --

// Verifies a standard successful API call, including request validation, response parsing, and logging.
func TestGenerate_Success(t *testing.T) {
	client, logs := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))

		body, _ := io.ReadAll(r.Body)
		var payload GeminiRequestPayload
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "User query.", payload.Contents[0].Parts[0].Text)

		writeCandidate(t, w, "This is the generated content.")
	})

	out, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, "This is the generated content.", out)

	entries := logs.FilterMessage("LLM generation complete.").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(100), entries[0].ContextMap()["prompt_tokens"])
}

// Verifies transient statuses are retried.
func TestGenerate_RetryOnTransientErrors(t *testing.T) {
	var attempts int32
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeCandidate(t, w, "ok")
	})

	out, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

// Verifies client errors are not retried.
func TestGenerate_NoRetryOnPermanentErrors(t *testing.T) {
	var attempts int32
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

// Verifies safety blocks fail fast.
func TestGenerate_SafetyBlock(t *testing.T) {
	var attempts int32
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`))
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	assert.ErrorContains(t, err, "blocked the request (reason: SAFETY)")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

// Verifies malformed bodies and empty candidate lists are permanent.
func TestGenerate_BadResponses(t *testing.T) {
	testCases := map[string]string{
		"not json":      "<html>",
		"no candidates": `{"candidates":[]}`,
	}
	for name, body := range testCases {
		t.Run(name, func(t *testing.T) {
			var attempts int32
			client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&attempts, 1)
				_, _ = w.Write([]byte(body))
			})
			_, err := client.Generate(context.Background(), createTestRequest())
			assert.Error(t, err)
			assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
		})
	}
}

// Verifies that the operation respects context cancellation during backoff waits.
func TestGenerate_ContextCancellation(t *testing.T) {
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	client.backoffFactory = func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Second) }

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := client.Generate(ctx, createTestRequest())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

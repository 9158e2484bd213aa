// internal/llmclient/ollama_client.go
package llmclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/config"
)

const defaultOllamaEndpoint = "http://localhost:11434"

// OllamaClient calls a local Ollama server's /api/generate.
type OllamaClient struct {
	client *resty.Client
	config config.LLMModelConfig
	logger *zap.Logger
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float32 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Images  []string      `json:"images,omitempty"`
	Format  string        `json:"format,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// NewOllamaClient creates the client. No API key is needed.
func NewOllamaClient(cfg config.LLMModelConfig, logger *zap.Logger) (*OllamaClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama model name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	httpClient, err := newHTTPClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	client := resty.NewWithClient(httpClient).
		SetBaseURL(strings.TrimRight(endpoint, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	client.JSONMarshal = json.Marshal
	client.JSONUnmarshal = json.Unmarshal

	return &OllamaClient{
		client: client,
		config: cfg,
		logger: logger.Named("llm_client.ollama"),
	}, nil
}

// Generate runs one non-streaming generation. History turns are folded into
// the prompt since /api/generate is single-turn.
func (c *OllamaClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	body := c.buildRequest(req)

	var out ollamaResponse
	start := time.Now()
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/api/generate")
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("ollama API error: status %d, body: %s", resp.StatusCode(), resp.String())
	}
	if out.Response == "" {
		return "", fmt.Errorf("ollama returned an empty response for model %q", c.config.Model)
	}

	c.logger.Info("LLM generation complete.",
		zap.String("model", c.config.Model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("prompt_tokens", out.PromptEvalCount),
		zap.Int("completion_tokens", out.EvalCount),
	)
	return out.Response, nil
}

// Close is a no-op.
func (c *OllamaClient) Close() error { return nil }

func (c *OllamaClient) buildRequest(req schemas.GenerationRequest) ollamaRequest {
	prompt := req.UserPrompt
	if len(req.History) > 0 {
		var b strings.Builder
		b.WriteString(req.UserPrompt)
		for _, turn := range req.History {
			fmt.Fprintf(&b, "\n\n[%s]\n%s", turn.Role, turn.Content)
		}
		prompt = b.String()
	}

	body := ollamaRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		System: req.SystemPrompt,
		Stream: false,
		Options: ollamaOptions{
			Temperature: req.Options.Temperature,
			TopP:        c.config.TopP,
			TopK:        c.config.TopK,
			NumPredict:  c.config.MaxTokens,
		},
	}
	if req.Options.MaxTokens > 0 {
		body.Options.NumPredict = req.Options.MaxTokens
	}
	if req.Options.ForceJSONFormat {
		body.Format = "json"
	}
	for _, img := range req.Images {
		body.Images = append(body.Images, base64.StdEncoding.EncodeToString(img.Data))
	}
	return body
}

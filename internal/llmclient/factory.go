// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/config"
	"github.com/xkilldash9x/atlas-cli/internal/network"
)

// NewClient builds the tiered router from the llm configuration section.
func NewClient(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fastCfg, ok := cfg.Models[cfg.DefaultFastModel]
	if !ok {
		return nil, fmt.Errorf("fast model %q is not defined under llm.models", cfg.DefaultFastModel)
	}
	powerfulCfg, ok := cfg.Models[cfg.DefaultPowerfulModel]
	if !ok {
		return nil, fmt.Errorf("powerful model %q is not defined under llm.models", cfg.DefaultPowerfulModel)
	}

	fast, err := NewModelClient(ctx, fastCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fast tier client: %w", err)
	}

	var powerful schemas.LLMClient = fast
	if cfg.DefaultPowerfulModel != cfg.DefaultFastModel {
		powerful, err = NewModelClient(ctx, powerfulCfg, logger)
		if err != nil {
			_ = fast.Close()
			return nil, fmt.Errorf("failed to create powerful tier client: %w", err)
		}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return asClient(NewLLMRouter(logger, fast, powerful, limiter))
}

// NewModelClient creates the provider client for one model entry.
func NewModelClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	var (
		client schemas.LLMClient
		err    error
	)
	switch cfg.Provider {
	case config.ProviderGemini:
		client, err = asClient(NewGeminiClient(cfg, logger))
	case config.ProviderGenAI:
		client, err = asClient(NewGoogleClient(ctx, cfg, logger))
	case config.ProviderOpenAI:
		client, err = asClient(NewOpenAIClient(cfg, logger))
	case config.ProviderOllama:
		client, err = asClient(NewOllamaClient(cfg, logger))
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s, %s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderGenAI, config.ProviderOpenAI, config.ProviderOllama)
	}
	return client, err
}

// newHTTPClient builds the transport shared by the HTTP-based providers.
func newHTTPClient(cfg config.LLMModelConfig, logger *zap.Logger) (*http.Client, error) {
	hc := network.NewDefaultClientConfig(logger)
	if cfg.APITimeout > 0 {
		hc.RequestTimeout = cfg.APITimeout
	}
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy_url for model %q: %q", cfg.Model, cfg.ProxyURL)
		}
		hc.ProxyURL = u
	}
	return network.NewClient(hc), nil
}

// asClient keeps a failed constructor from leaking a typed nil.
func asClient[C schemas.LLMClient](c C, err error) (schemas.LLMClient, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}

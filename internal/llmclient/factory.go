// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shopscope/api/schemas"
	"github.com/xkilldash9x/shopscope/internal/config"
)

// NewClient is a factory function that creates the LLMClient for the active provider.
// A positive requests-per-minute setting wraps the client in a rate limiter.
func NewClient(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	model, err := cfg.ActiveModel()
	if err != nil {
		return nil, err
	}

	var client schemas.LLMClient
	switch cfg.Provider {
	case config.ProviderOpenAI:
		client, err = NewOpenAIClient(model, cfg.Retry, logger)
	case config.ProviderGemini:
		client, err = NewGeminiClient(ctx, model, cfg.Retry, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]", cfg.Provider, config.ProviderOpenAI, config.ProviderGemini)
	}
	if err != nil {
		return nil, err
	}

	if rpm := cfg.RateLimit.RequestsPerMinute; rpm > 0 {
		client = NewRateLimitedClient(client, rpm, logger)
	}
	return client, nil
}

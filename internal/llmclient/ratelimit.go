// internal/llmclient/ratelimit.go
package llmclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/shopscope/api/schemas"
)

// RateLimitedClient spaces out calls to the wrapped client.
type RateLimitedClient struct {
	next    schemas.LLMClient
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRateLimitedClient allows requestsPerMinute calls per minute with a burst of one.
func NewRateLimitedClient(next schemas.LLMClient, requestsPerMinute float64, logger *zap.Logger) *RateLimitedClient {
	return &RateLimitedClient{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(requestsPerMinute/60), 1),
		logger:  logger.Named("llm_rate_limiter"),
	}
}

// Generate waits for a token and then delegates.
func (c *RateLimitedClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		c.logger.Debug("Delayed model request to respect rate limit.", zap.Duration("waited", waited))
	}
	return c.next.Generate(ctx, req)
}

// Close closes the wrapped client.
func (c *RateLimitedClient) Close() error {
	return c.next.Close()
}

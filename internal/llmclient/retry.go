// internal/llmclient/retry.go
package llmclient

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xkilldash9x/shopscope/internal/config"
)

// newBackoffFactory returns a constructor for the exponential policy shared by all providers.
func newBackoffFactory(cfg config.RetryConfig) func() backoff.BackOff {
	maxElapsed := cfg.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}
	maxInterval := cfg.MaxInterval
	if maxInterval <= 0 {
		maxInterval = 30 * time.Second
	}

	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = maxElapsed
		b.MaxInterval = maxInterval
		return b
	}
}

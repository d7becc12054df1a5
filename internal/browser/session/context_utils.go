// internal/browser/session/context_utils.go
package session

import (
	"context"
	"time"
)

// CombineContext returns a context that carries the values of ctx1 and is
// cancelled when either ctx1 or ctx2 is done. chromedp keeps the CDP target in
// ctx1, while ctx2 carries the deadline of a single operation.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}

// valueOnlyContext keeps the values of its parent but none of its deadline or cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context that inherits values from ctx but is never
// cancelled by it. Cleanup that must outlive an interrupted operation uses it.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}

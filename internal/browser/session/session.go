// internal/browser/session/session.go
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shopscope/api/schemas"
	"github.com/xkilldash9x/shopscope/internal/config"
)

// Session drives one Chrome tab. Calls are serialized by the caller.
type Session struct {
	id     string
	ctx    context.Context // chromedp tab context, carries the CDP target
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.Interface

	mu        sync.Mutex
	closed    bool
	onClose   func()
	closeOnce sync.Once
}

var _ schemas.BrowserSession = (*Session)(nil)

// NewSession wraps a chromedp tab context. The tab is not attached until Initialize.
func NewSession(tabCtx context.Context, cancel context.CancelFunc, cfg config.Interface, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:     id,
		ctx:    tabCtx,
		cancel: cancel,
		cfg:    cfg,
		logger: logger.Named("browser_session").With(zap.String("session_id", id)),
	}
}

// Initialize attaches the tab and applies the configured viewport.
func (s *Session) Initialize(ctx context.Context) error {
	// The first Run on a tab context creates the target and must not carry a deadline.
	if err := chromedp.Run(s.ctx); err != nil {
		return fmt.Errorf("failed to attach browser tab: %w", err)
	}

	vp := s.cfg.Browser().Viewport
	if err := s.RunActions(ctx, chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height))); err != nil {
		return fmt.Errorf("failed to set viewport %dx%d: %w", vp.Width, vp.Height, err)
	}
	s.logger.Debug("Browser tab ready.", zap.Int("width", vp.Width), zap.Int("height", vp.Height))
	return nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// SetOnClose registers a callback run once after the tab is closed.
func (s *Session) SetOnClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = fn
}

// RunActions runs chromedp actions on the tab, bounded by both the operation
// context and the session lifetime.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	if s.isClosed() {
		return fmt.Errorf("browser session %s is closed", s.id)
	}

	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil {
		// Prefer the cause the caller can act on.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
	}
	return err
}

// evaluate runs script in the page and decodes its JSON result into res.
func (s *Session) evaluate(ctx context.Context, script string, res interface{}) error {
	opCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()

	var raw json.RawMessage
	err := s.RunActions(opCtx,
		chromedp.Evaluate(script, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true)
		}),
	)
	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("script evaluation timed out: %w", opCtx.Err())
		}
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	if res == nil {
		return nil
	}
	if err := json.Unmarshal(raw, res); err != nil {
		return fmt.Errorf("failed to decode script result: %w", err)
	}
	return nil
}

// Close closes the tab. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		onClose := s.onClose
		s.mu.Unlock()

		s.logger.Debug("Closing browser session.")

		if chromedp.FromContext(s.ctx) != nil {
			done := make(chan error, 1)
			go func() { done <- chromedp.Cancel(s.ctx) }()
			select {
			case err = <-done:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
		if s.cancel != nil {
			s.cancel()
		}
		if err != nil && err != context.Canceled {
			s.logger.Warn("Browser tab did not close cleanly.", zap.Error(err))
		} else {
			err = nil
		}

		if onClose != nil {
			onClose()
		}
	})
	return err
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) actionTimeout() time.Duration {
	if t := s.cfg.Network().ActionTimeout; t > 0 {
		return t
	}
	return 30 * time.Second
}

func (s *Session) postLoadWait() time.Duration {
	if d := s.cfg.Network().PostLoadWait; d > 0 {
		return d
	}
	return 1500 * time.Millisecond
}

// jsonEncode is a helper to safely encode a value (especially strings) for JS injection.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}

// internal/browser/session/interaction.go
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrElementNotFound means no element carries the requested synthetic id.
var ErrElementNotFound = errors.New("element not found")

// Navigate loads targetURL and waits for the document content to load.
// Failed loads are retried up to the configured number of times.
func (s *Session) Navigate(ctx context.Context, targetURL string) error {
	normalized, err := NormalizeURL(targetURL)
	if err != nil {
		return err
	}
	s.logger.Info("Navigating session.", zap.String("url", normalized))

	navTimeout := s.cfg.Network().NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 90 * time.Second
	}

	attempt := 0
	operation := func() error {
		attempt++
		navCtx, navCancel := context.WithTimeout(ctx, navTimeout)
		defer navCancel()

		err := s.RunActions(navCtx, chromedp.Navigate(normalized))
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || s.ctx.Err() != nil {
			return backoff.Permanent(fmt.Errorf("navigation canceled: %w", err))
		}
		if navCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("navigation to %s timed out after %v: %w", normalized, navTimeout, navCtx.Err())
		} else {
			err = fmt.Errorf("navigation failed: %w", err)
		}
		s.logger.Warn("Navigation attempt failed.", zap.Int("attempt", attempt), zap.Error(err))
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.Network().NavigationRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return err
	}

	if err := s.waitForContentLoaded(ctx); err != nil {
		return err
	}
	s.logger.Info("Navigation complete.", zap.String("url", normalized))
	return nil
}

// Click clicks the element stamped with vid by the highlighter and waits for
// any resulting page load.
func (s *Session) Click(ctx context.Context, vid string) error {
	selector := SelectorForVID(vid)
	s.logger.Debug("Attempting to click element", zap.String("selector", selector))

	var count int
	if err := s.evaluate(ctx, fmt.Sprintf(`document.querySelectorAll(%s).length`, jsonEncode(selector)), &count); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrElementNotFound, vid)
	}

	opCtx, opCancel := context.WithTimeout(ctx, s.actionTimeout())
	defer opCancel()

	err := s.RunActions(opCtx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("click action timed out for selector '%s': %w", selector, opCtx.Err())
		}
		return fmt.Errorf("click action failed for selector '%s': %w", selector, err)
	}

	if err := s.waitForContentLoaded(ctx); err != nil {
		return err
	}
	s.logger.Debug("Click successful.", zap.String("selector", selector))
	return nil
}

// waitForContentLoaded waits out a quiet period and then polls until the
// document is no longer loading. A click may start a navigation late, so the
// quiet period comes first.
func (s *Session) waitForContentLoaded(ctx context.Context) error {
	if err := s.RunActions(ctx, chromedp.Sleep(s.postLoadWait())); err != nil {
		return err
	}

	deadline := time.Now().Add(s.actionTimeout())
	for {
		var state string
		err := s.evaluate(ctx, `document.readyState`, &state)
		if err == nil && state != "loading" {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			// A slow page is still worth a screenshot.
			s.logger.Warn("Document still loading after wait.", zap.String("ready_state", state), zap.Error(err))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// NormalizeURL adds an https scheme to bare host names and rejects anything
// that is not http or https. URLs come from the model, so local files and
// browser internal pages stay out of reach.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL '%s': %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported URL scheme '%s'", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid URL '%s': missing host", raw)
	}
	return u.String(), nil
}

// SelectorForVID returns the CSS selector of a highlighted element.
func SelectorForVID(vid string) string {
	return fmt.Sprintf(`[%s=%s]`, vidAttribute, jsonEncode(vid))
}

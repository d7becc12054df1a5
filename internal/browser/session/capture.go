// internal/browser/session/capture.go
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shopscope/api/schemas"
)

const suppressStyleID = "shopscope-suppress-outline"

// suppressOutlineScript hides highlight outlines until restoreOutlineScript runs.
// The important flag beats the inline outline set by the highlighter.
var suppressOutlineScript = fmt.Sprintf(`(() => {
	if (document.getElementById(%[1]s)) return true;
	const style = document.createElement('style');
	style.id = %[1]s;
	style.textContent = '.%[2]s { outline: none !important; }';
	(document.head || document.documentElement).appendChild(style);
	return true;
})()`, jsonEncode(suppressStyleID), highlightClass)

var restoreOutlineScript = fmt.Sprintf(`(() => {
	const style = document.getElementById(%s);
	if (style) style.remove();
	return true;
})()`, jsonEncode(suppressStyleID))

// Screenshot captures the full page.
func (s *Session) Screenshot(ctx context.Context) (schemas.Image, error) {
	quality := s.cfg.Network().ScreenshotQuality
	opCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()

	var buf []byte
	if err := s.RunActions(opCtx, chromedp.FullScreenshot(&buf, quality)); err != nil {
		return schemas.Image{}, fmt.Errorf("full page screenshot failed: %w", err)
	}
	s.logger.Debug("Captured full page screenshot.", zap.Int("bytes", len(buf)))
	return schemas.Image{MIMEType: ScreenshotMIMEType(quality), Data: buf}, nil
}

// ClipScreenshot captures region with highlight outlines suppressed. The
// region is in document coordinates and may extend past the viewport.
func (s *Session) ClipScreenshot(ctx context.Context, region schemas.Region) (schemas.Image, error) {
	if !region.Valid() {
		return schemas.Image{}, fmt.Errorf("invalid screenshot region %+v", region)
	}
	quality := s.cfg.Network().ScreenshotQuality

	if err := s.evaluate(ctx, suppressOutlineScript, nil); err != nil {
		return schemas.Image{}, fmt.Errorf("failed to suppress outlines: %w", err)
	}
	defer func() {
		// Restore on a detached context so a cancelled capture does not leave outlines hidden.
		restoreCtx, cancel := context.WithTimeout(Detach(ctx), 5*time.Second)
		defer cancel()
		if err := s.evaluate(restoreCtx, restoreOutlineScript, nil); err != nil {
			s.logger.Debug("Failed to restore outlines.", zap.Error(err))
		}
	}()

	opCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()

	var buf []byte
	capture := chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.CaptureScreenshot().
			WithClip(&page.Viewport{X: region.X, Y: region.Y, Width: region.Width, Height: region.Height, Scale: 1}).
			WithCaptureBeyondViewport(true)
		if quality >= 100 {
			params = params.WithFormat(page.CaptureScreenshotFormatPng)
		} else {
			params = params.WithFormat(page.CaptureScreenshotFormatJpeg).WithQuality(int64(quality))
		}
		var err error
		buf, err = params.Do(ctx)
		return err
	})

	if err := s.RunActions(opCtx, capture); err != nil {
		return schemas.Image{}, fmt.Errorf("region screenshot failed: %w", err)
	}
	s.logger.Debug("Captured region screenshot.", zap.Any("region", region), zap.Int("bytes", len(buf)))
	return schemas.Image{MIMEType: ScreenshotMIMEType(quality), Data: buf}, nil
}

// ScreenshotMIMEType maps a capture quality onto the encoded format.
// Quality 100 is captured as PNG, anything lower as JPEG.
func ScreenshotMIMEType(quality int) string {
	if quality >= 100 {
		return "image/png"
	}
	return "image/jpeg"
}

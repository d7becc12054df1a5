// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shopscope/internal/browser/session"
	"github.com/xkilldash9x/shopscope/internal/config"
)

// Manager owns the Chrome process. Tabs are handed out as sessions.
type Manager struct {
	logger *zap.Logger
	cfg    config.Interface

	// allocatorCtx manages the browser process. browserCtx holds the browser connection.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewManager launches the browser and verifies it responds.
func NewManager(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}
	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

// launchBrowser starts Chrome. The process is detached from ctx so an
// interrupt does not kill it before the session shuts down in order.
func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...", zap.Bool("headless", m.cfg.Browser().Headless))

	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(session.Detach(ctx), m.buildAllocatorOptions()...)
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocatorCtx)

	// The first Run allocates the browser and must not carry a deadline.
	if err := chromedp.Run(m.browserCtx); err != nil {
		m.browserCancel()
		m.allocatorCancel()
		return fmt.Errorf("browser failed to start: %w", err)
	}

	probeCtx, cancelProbe := context.WithTimeout(ctx, 30*time.Second)
	defer cancelProbe()
	runCtx, cancelRun := session.CombineContext(m.browserCtx, probeCtx)
	defer cancelRun()

	if err := chromedp.Run(runCtx, chromedp.Navigate("about:blank")); err != nil {
		m.browserCancel()
		m.allocatorCancel()
		return fmt.Errorf("browser failed to respond: %w", err)
	}

	m.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// buildAllocatorOptions assembles the allocator options from the default set
// and the configured flags.
func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	flags := AllocatorFlags(m.cfg.Browser(), runtime.GOOS)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}

	if ua := m.cfg.Browser().UserAgent; ua != "" {
		opts = append(opts, chromedp.UserAgent(ua))
	}

	vp := m.cfg.Browser().Viewport
	opts = append(opts, chromedp.WindowSize(vp.Width, vp.Height))
	return opts
}

// AllocatorFlags returns the Chrome command line flags for cfg. A flag set
// to false is removed from the default set.
func AllocatorFlags(cfg config.BrowserConfig, goos string) map[string]interface{} {
	flags := map[string]interface{}{
		// Drop the infobar and the navigator.webdriver signal some storefronts block on.
		"enable-automation":         false,
		"disable-blink-features":    "AutomationControlled",
		"headless":                  cfg.Headless,
		"hide-scrollbars":           cfg.Headless,
		"mute-audio":                true,
		"disable-extensions":        true,
		"ignore-certificate-errors": cfg.IgnoreTLSErrors,
	}
	if cfg.Headless {
		flags["disable-gpu"] = true
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}

	// Flags required for running inside containers.
	if goos == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["disable-setuid-sandbox"] = true
	}
	return flags
}

// NewSession opens a new tab with the configured viewport.
func (m *Manager) NewSession(ctx context.Context) (*session.Session, error) {
	tabCtx, cancel := chromedp.NewContext(m.browserCtx)
	s := session.NewSession(tabCtx, cancel, m.cfg, m.logger)
	if err := s.Initialize(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize browser session: %w", err)
	}
	m.logger.Info("Browser session opened.", zap.String("session_id", s.ID()))
	return s, nil
}

// Shutdown closes the browser and terminates the process. It is safe to call
// more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.logger.Info("Shutting down browser manager.")

		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(m.browserCtx) }()
		select {
		case err := <-done:
			if err != nil && err != context.Canceled {
				m.logger.Warn("Browser did not close gracefully.", zap.Error(err))
				m.shutdownErr = fmt.Errorf("failed to close browser: %w", err)
			}
		case <-ctx.Done():
			m.logger.Warn("Timeout waiting for browser to close. Proceeding with forceful shutdown.", zap.Error(ctx.Err()))
			m.shutdownErr = ctx.Err()
		}

		m.browserCancel()
		m.allocatorCancel()
		m.logger.Info("Browser manager shutdown complete.")
	})
	return m.shutdownErr
}

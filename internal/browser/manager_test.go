// internal/browser/manager_test.go
package browser

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/shopscope/api/schemas"
	"github.com/xkilldash9x/shopscope/internal/browser/session"
	"github.com/xkilldash9x/shopscope/internal/config"
)

func TestAllocatorFlags(t *testing.T) {
	t.Run("Headless", func(t *testing.T) {
		flags := AllocatorFlags(config.BrowserConfig{Headless: true}, "darwin")
		assert.Equal(t, true, flags["headless"])
		assert.Equal(t, true, flags["disable-gpu"])
		assert.Equal(t, false, flags["enable-automation"])
		assert.Equal(t, "AutomationControlled", flags["disable-blink-features"])
		assert.NotContains(t, flags, "no-sandbox")
	})

	t.Run("Headed", func(t *testing.T) {
		flags := AllocatorFlags(config.BrowserConfig{Headless: false}, "darwin")
		assert.Equal(t, false, flags["headless"])
		assert.NotContains(t, flags, "disable-gpu")
	})

	t.Run("IgnoreTLSErrors", func(t *testing.T) {
		flags := AllocatorFlags(config.BrowserConfig{IgnoreTLSErrors: true}, "darwin")
		assert.Equal(t, true, flags["ignore-certificate-errors"])
	})

	t.Run("CustomArgs", func(t *testing.T) {
		flags := AllocatorFlags(config.BrowserConfig{Args: []string{"--lang=en-GB", "--force-dark-mode", "--"}}, "darwin")
		assert.Equal(t, "en-GB", flags["lang"])
		assert.Equal(t, true, flags["force-dark-mode"])
		assert.NotContains(t, flags, "")
	})

	t.Run("LinuxSandboxFlags", func(t *testing.T) {
		flags := AllocatorFlags(config.BrowserConfig{}, "linux")
		assert.Equal(t, true, flags["no-sandbox"])
		assert.Equal(t, true, flags["disable-dev-shm-usage"])
	})
}

// -- Browser integration tests. They need a local Chrome or Chromium. --

const testTimeout = 60 * time.Second

const storefrontPage = `<!DOCTYPE html>
<html><head><title>Store</title></head>
<body style="margin:0">
  <nav>
    <a href="/plp" id="plp-link">Women's Shoes</a>
    <a href="/hidden" style="display:none">Hidden Link</a>
    <button id="shop-now" style="width:120px;height:40px">Shop Now</button>
    <button style="visibility:hidden">Invisible</button>
    <a href="/cart" role="button">Cart</a>
    <input type="submit" value="Search">
  </nav>
  <textarea placeholder="Leave a review"></textarea>
  <ul role="tree"><li role="treeitem">Sale</li></ul>
  <div id="hero" style="width:300px;height:200px;background:#0a0">Hero</div>
</body></html>`

func requireChrome(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell", "chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("no Chrome or Chromium binary on PATH")
}

func newTestSession(t *testing.T) (*session.Session, *httptest.Server) {
	t.Helper()
	requireChrome(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, storefrontPage)
	})
	mux.HandleFunc("/plp", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Product Listing</h1><a href="/pdp/1">Trail Runner</a></body></html>`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := config.NewDefaultConfig()
	cfg.SetBrowserHeadless(true)
	cfg.NetworkCfg.PostLoadWait = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)

	logger := zaptest.NewLogger(t)
	m, err := NewManager(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	s, err := m.NewSession(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, server
}

func TestSession_HighlightIsIdempotent(t *testing.T) {
	s, server := newTestSession(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	require.NoError(t, s.Navigate(ctx, server.URL))

	first, err := s.Highlight(ctx)
	require.NoError(t, err)
	second, err := s.Highlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var got []string
	for _, el := range first {
		got = append(got, el.Role+":"+el.Label)
	}
	assert.Equal(t, []string{
		"button:Shop Now",
		"button:Cart",
		"button:Search",
		"link:Women's Shoes",
		"textarea:Leave a review",
		"treeitem:Sale",
	}, got, "roles in priority order, hidden elements skipped, first role wins")
	assert.Equal(t, "vid-1", first[0].VID)
}

func TestSession_ClickByVID(t *testing.T) {
	s, server := newTestSession(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	require.NoError(t, s.Navigate(ctx, server.URL))
	elements, err := s.Highlight(ctx)
	require.NoError(t, err)

	var vid string
	for _, el := range elements {
		if el.Label == "Women's Shoes" {
			vid = el.VID
		}
	}
	require.NotEmpty(t, vid)
	require.NoError(t, s.Click(ctx, vid))

	after, err := s.Highlight(ctx)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "Trail Runner", after[0].Label)

	err = s.Click(ctx, "vid-99")
	assert.ErrorIs(t, err, session.ErrElementNotFound)
}

func TestSession_Screenshots(t *testing.T) {
	s, server := newTestSession(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	require.NoError(t, s.Navigate(ctx, server.URL))
	_, err := s.Highlight(ctx)
	require.NoError(t, err)

	full, err := s.Screenshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "image/png", full.MIMEType)
	assert.True(t, bytes.HasPrefix(full.Data, []byte("\x89PNG")))

	clip, err := s.ClipScreenshot(ctx, schemas.Region{X: 0, Y: 0, Width: 200, Height: 100})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(clip.Data, []byte("\x89PNG")))
	assert.Less(t, len(clip.Data), len(full.Data))

	// Outlines come back once the clip is taken.
	again, err := s.Highlight(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, again)
}

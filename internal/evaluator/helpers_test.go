// internal/evaluator/helpers_test.go
package evaluator_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/shopscope/api/schemas"
	"github.com/xkilldash9x/shopscope/internal/config"
	"github.com/xkilldash9x/shopscope/internal/framework"
	"github.com/xkilldash9x/shopscope/internal/mocks"
)

var (
	plainShot       = schemas.Image{MIMEType: "image/png", Data: []byte("plain")}
	highlightedShot = schemas.Image{MIMEType: "image/png", Data: []byte("highlighted")}
	evidenceShot    = schemas.Image{MIMEType: "image/png", Data: []byte("evidence")}

	storefront = []schemas.Element{
		{VID: "vid-1", Role: "button", Label: "Shop Now", Order: 0},
		{VID: "vid-2", Role: "link", Label: "Contact Us", Order: 1},
		{VID: "vid-3", Role: "link", Label: "Shop Now", Order: 2},
	}
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	dir := t.TempDir()
	cfg.EvaluationCfg.ScreenshotDir = filepath.Join(dir, "shots")
	cfg.EvaluationCfg.EvidenceDir = filepath.Join(dir, "evidence")
	cfg.EvaluationCfg.EvidencePrefix = "row-"
	return cfg
}

func testTable(rows int) *framework.Table {
	header := []string{"Index", "L1", "L2", "Description", "Scoring Guide"}
	data := make([][]string, rows)
	for i := range data {
		data[i] = []string{fmt.Sprint(i), "Discover", fmt.Sprintf("Dimension %d", i), "desc", "guide"}
	}
	return framework.NewTable(header, data)
}

// expectPageCapture wires the two screenshots and the highlight that follow a
// page change.
func expectPageCapture(b *mocks.MockBrowserSession, elements []schemas.Element) {
	b.On("Screenshot", mock.Anything).Return(plainShot, nil).Once()
	b.On("Highlight", mock.Anything).Return(elements, nil).Once()
	b.On("Screenshot", mock.Anything).Return(highlightedShot, nil).Once()
}

func imageMessages(msgs []schemas.Message) int {
	n := 0
	for _, m := range msgs {
		if m.HasImage() {
			n++
		}
	}
	return n
}

// internal/evaluator/artifacts.go
package evaluator

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shopscope/api/schemas"
	"github.com/xkilldash9x/shopscope/internal/config"
)

// Capture names, without extension.
const (
	shotPage                  = "screenshot"
	shotPageHighlighted       = "screenshot_highlighted"
	shotAfterClick            = "screenshot_after_click"
	shotAfterClickHighlighted = "screenshot_highlighted_after_click"
)

// Artifacts writes page captures and evidence crops to disk. Each name is
// overwritten by the next capture of the same kind.
type Artifacts struct {
	screenshotDir  string
	evidenceDir    string
	evidencePrefix string
	logger         *zap.Logger
}

// NewArtifacts builds an artifact writer from the evaluation settings.
func NewArtifacts(cfg config.EvaluationConfig, logger *zap.Logger) *Artifacts {
	return &Artifacts{
		screenshotDir:  cfg.ScreenshotDir,
		evidenceDir:    cfg.EvidenceDir,
		evidencePrefix: cfg.EvidencePrefix,
		logger:         logger.Named("artifacts"),
	}
}

// SaveScreenshot writes a page capture under name and returns its path.
func (a *Artifacts) SaveScreenshot(name string, img schemas.Image) (string, error) {
	return a.write(a.screenshotDir, name, img)
}

// SaveEvidence writes the evidence crop for a framework row. A later score for
// the same row replaces the file.
func (a *Artifacts) SaveEvidence(index int, img schemas.Image) (string, error) {
	return a.write(a.evidenceDir, fmt.Sprintf("%s%d", a.evidencePrefix, index), img)
}

func (a *Artifacts) write(dir, name string, img schemas.Image) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, name+extensionFor(img.MIMEType))
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	a.logger.Debug("Wrote capture.", zap.String("path", path), zap.Int("bytes", len(img.Data)))
	return path, nil
}

func extensionFor(mimeType string) string {
	if mimeType == "image/jpeg" {
		return ".jpg"
	}
	return ".png"
}

package schemas

import (
	"context"
)

// -- LLM Client Schemas & Interface --

// GenerationOptions controls sampling for a single completion.
type GenerationOptions struct {
	Temperature *float64 `json:"temperature,omitempty"` // Controls randomness. Nil uses the model config; zero is a valid setting.
	MaxTokens   int      `json:"max_tokens"`            // Upper bound on completion length. Zero uses the model config.
}

// GenerationRequest carries the full, ordered conversation history to the model.
type GenerationRequest struct {
	Messages []Message         `json:"messages"`
	Options  GenerationOptions `json:"options"`
}

// LLMClient defines a standard interface for interacting with a vision capable
// Large Language Model, abstracting the specifics of the underlying provider.
type LLMClient interface {
	// Generate produces a text completion for the conversation in req.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}

// -- Browser Schemas & Interface --

// Element describes one addressable element on the current page.
// Order is the element's position in role priority, then document order.
type Element struct {
	VID   string `json:"vid"`
	Role  string `json:"role"`
	Label string `json:"label"`
	Order int    `json:"order"`
}

// Region is a page area in CSS pixels, relative to the document.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether the region has a positive area.
func (r Region) Valid() bool {
	return r.Width > 0 && r.Height > 0 && r.X >= 0 && r.Y >= 0
}

// BrowserSession controls a single browser tab. No two calls are ever issued
// concurrently against the same session.
type BrowserSession interface {
	ID() string
	// Navigate loads url and waits until the document content has loaded.
	Navigate(ctx context.Context, url string) error
	// Screenshot captures the full page.
	Screenshot(ctx context.Context) (Image, error)
	// ClipScreenshot captures region with element highlighting suppressed.
	ClipScreenshot(ctx context.Context, region Region) (Image, error)
	// Highlight clears any previous marking and marks the current interactive elements.
	Highlight(ctx context.Context) ([]Element, error)
	// Click clicks the element stamped with vid and waits for the page to settle.
	Click(ctx context.Context, vid string) error
	// Close releases the tab.
	Close(ctx context.Context) error
}

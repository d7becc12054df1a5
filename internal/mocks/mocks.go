// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/shopscope/api/schemas"
	"github.com/xkilldash9x/shopscope/internal/framework"
)

var (
	_ schemas.LLMClient      = (*MockLLMClient)(nil)
	_ schemas.BrowserSession = (*MockBrowserSession)(nil)
)

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Close provides a mock function for releasing the client.
func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// -- Browser Session Mock --

// MockBrowserSession mocks the schemas.BrowserSession interface.
type MockBrowserSession struct {
	mock.Mock
}

func (m *MockBrowserSession) ID() string                      { return m.Called().String(0) }
func (m *MockBrowserSession) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *MockBrowserSession) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}
func (m *MockBrowserSession) Click(ctx context.Context, vid string) error {
	return m.Called(ctx, vid).Error(0)
}

func (m *MockBrowserSession) Screenshot(ctx context.Context) (schemas.Image, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.Image), args.Error(1)
}

func (m *MockBrowserSession) ClipScreenshot(ctx context.Context, region schemas.Region) (schemas.Image, error) {
	args := m.Called(ctx, region)
	return args.Get(0).(schemas.Image), args.Error(1)
}

func (m *MockBrowserSession) Highlight(ctx context.Context) ([]schemas.Element, error) {
	args := m.Called(ctx)
	var elements []schemas.Element
	if v := args.Get(0); v != nil {
		elements = v.([]schemas.Element)
	}
	return elements, args.Error(1)
}

// -- Table Store Mock --

// MockTableStore records Save calls.
type MockTableStore struct {
	mock.Mock
}

func (m *MockTableStore) Save(t *framework.Table) error {
	return m.Called(t).Error(0)
}

// -- User IO --

// ScriptedUserIO replays canned user input and records everything printed.
// Once the script is exhausted, Capture returns Exhausted.
type ScriptedUserIO struct {
	mu        sync.Mutex
	lines     []string
	printed   []string
	Exhausted error
}

// NewScriptedUserIO returns a UserIO that answers with lines in order.
func NewScriptedUserIO(exhausted error, lines ...string) *ScriptedUserIO {
	return &ScriptedUserIO{lines: lines, Exhausted: exhausted}
}

// Capture returns the next scripted line.
func (s *ScriptedUserIO) Capture(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return "", s.Exhausted
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

// Println records a line of output.
func (s *ScriptedUserIO) Println(a ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.printed = append(s.printed, strings.TrimSuffix(fmt.Sprintln(a...), "\n"))
}

// Printed returns every recorded output line.
func (s *ScriptedUserIO) Printed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.printed...)
}

// Remaining reports how many scripted lines are unread.
func (s *ScriptedUserIO) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

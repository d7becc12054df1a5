package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/shopscope/api/schemas"
	"github.com/xkilldash9x/shopscope/internal/config"
)

// MockLLMClient is a mock implementation of the LLMClient interface for testing.
type MockLLMClient struct {
	mock.Mock
}

// Generate mocks the Generate method.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Close mocks the Close method.
func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// setupTestLogger is a helper to create a zap logger for testing with an observer.
func setupTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	core, _ := observer.New(zap.DebugLevel)
	return zap.New(core)
}

// getValidLLMConfig returns a valid LLMModelConfig for testing purposes.
func getValidLLMConfig(provider config.LLMProvider) config.LLMModelConfig {
	return config.LLMModelConfig{
		Provider:    provider,
		APIKey:      "test-api-key",
		Model:       "test-model",
		APITimeout:  5 * time.Second,
		Temperature: 0.2,
		MaxTokens:   512,
	}
}

// fastBackoff keeps retry tests quick.
func fastBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return b
}

// createTestRequest provides a conversation with a system prompt, a screenshot, and a question.
func createTestRequest() schemas.GenerationRequest {
	return schemas.GenerationRequest{
		Messages: []schemas.Message{
			schemas.NewTextMessage(schemas.RoleSystem, "You are a research tool."),
			schemas.NewTextMessage(schemas.RoleUser, "Evaluate example.com"),
			schemas.NewTextMessage(schemas.RoleAssistant, `{"url": "https://example.com"}`),
			schemas.NewImageMessage(schemas.RoleUser, schemas.Image{MIMEType: "image/png", Data: []byte("png-bytes")}, "Here's the screenshot."),
		},
	}
}

// quickGiveUp retries briefly and then stops.
func quickGiveUp() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxElapsedTime = 50 * time.Millisecond
	return b
}

// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/shopscope/api/schemas"
	"github.com/xkilldash9x/shopscope/internal/config"
)

// GeminiClient implements schemas.LLMClient for Google Gemini through the genai SDK.
type GeminiClient struct {
	client         *genai.Client
	httpClient     *http.Client
	logger         *zap.Logger
	config         config.LLMModelConfig
	backoffFactory func() backoff.BackOff
}

// NewGeminiClient initializes the client. A configured endpoint replaces the SDK base URL.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, retry config.RetryConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}

	httpClient := &http.Client{Timeout: cfg.APITimeout}
	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		client:         client,
		httpClient:     httpClient,
		config:         cfg,
		logger:         logger.Named("llm_client.gemini"),
		backoffFactory: newBackoffFactory(retry),
	}, nil
}

// Generate sends the conversation to Gemini and returns the generated text, with retries.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	contents, genConfig := c.buildRequest(req)
	if len(contents) == 0 {
		return "", fmt.Errorf("gemini request has no user or model content")
	}

	var responseContent string

	operation := func() error {
		startTime := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, contents, genConfig)
		duration := time.Since(startTime)

		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return c.handleAPIError(err)
		}

		if resp == nil || len(resp.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}

		candidate := resp.Candidates[0]
		text := resp.Text()
		if text == "" {
			switch candidate.FinishReason {
			case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content parts (Reason: %s)", candidate.FinishReason)
		}

		fields := []zap.Field{zap.Duration("duration", duration)}
		if u := resp.UsageMetadata; u != nil {
			fields = append(fields,
				zap.Int("prompt_tokens", int(u.PromptTokenCount)),
				zap.Int("completion_tokens", int(u.CandidatesTokenCount)),
				zap.Int("total_tokens", int(u.TotalTokenCount)),
			)
		}
		c.logger.Info("LLM generation complete (Gemini)", fields...)

		responseContent = text
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffFactory(), ctx)); err != nil {
		return "", err
	}
	return responseContent, nil
}

// buildRequest maps the conversation onto genai contents. System messages become
// the system instruction and consecutive messages of the same role share a turn.
func (c *GeminiClient) buildRequest(req schemas.GenerationRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	var systemParts []*genai.Part
	var contents []*genai.Content

	for _, m := range req.Messages {
		var parts []*genai.Part
		if m.HasImage() {
			parts = append(parts, genai.NewPartFromBytes(m.Image.Data, m.Image.MIMEType))
		}
		if m.Text != "" {
			parts = append(parts, genai.NewPartFromText(m.Text))
		}
		if len(parts) == 0 {
			continue
		}

		var role genai.Role
		switch m.Role {
		case schemas.RoleSystem:
			systemParts = append(systemParts, parts...)
			continue
		case schemas.RoleAssistant:
			role = genai.RoleModel
		default:
			role = genai.RoleUser
		}

		if n := len(contents); n > 0 && contents[n-1].Role == string(role) {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}

	temperature := c.config.Temperature
	if req.Options.Temperature != nil {
		temperature = float32(*req.Options.Temperature)
	}
	maxTokens := req.Options.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		MaxOutputTokens: int32(maxTokens),
	}
	if len(systemParts) > 0 {
		genConfig.SystemInstruction = &genai.Content{Parts: systemParts}
	}
	return contents, genConfig
}

func (c *GeminiClient) handleAPIError(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
		return fmt.Errorf("gemini request failed: %w", err)
	}

	c.logger.Error("Gemini API returned error status", zap.Int("status", code), zap.Error(err))
	wrapped := fmt.Errorf("gemini API error: status %d: %w", code, err)

	switch code {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return wrapped // Transient errors, retry.
	default:
		return backoff.Permanent(wrapped) // Permanent errors.
	}
}

// Close implements schemas.LLMClient.
func (c *GeminiClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// internal/llmclient/openai_client.go
package llmclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shopscope/api/schemas"
	"github.com/xkilldash9x/shopscope/internal/config"
)

// OpenAIClient implements schemas.LLMClient against the OpenAI chat completions API.
type OpenAIClient struct {
	client         openai.Client
	httpClient     *http.Client
	logger         *zap.Logger
	config         config.LLMModelConfig
	backoffFactory func() backoff.BackOff
}

// NewOpenAIClient initializes the client. A configured endpoint replaces the
// SDK base URL, which also covers OpenAI compatible gateways.
func NewOpenAIClient(cfg config.LLMModelConfig, retry config.RetryConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API Key is required")
	}

	httpClient := &http.Client{Timeout: cfg.APITimeout}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		// Retries are driven by backoffFactory.
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}

	return &OpenAIClient{
		client:         openai.NewClient(opts...),
		httpClient:     httpClient,
		config:         cfg,
		logger:         logger.Named("llm_client.openai"),
		backoffFactory: newBackoffFactory(retry),
	}, nil
}

// Generate sends the conversation to the chat completions API and returns the reply, with retries.
func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	params := c.buildParams(req)

	var responseContent string

	operation := func() error {
		startTime := time.Now()
		resp, err := c.client.Chat.Completions.New(ctx, params)
		duration := time.Since(startTime)

		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			var apiErr *openai.Error
			if errors.As(err, &apiErr) {
				return c.handleAPIError(apiErr)
			}
			c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute request: %w", err)
		}

		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("openai API returned no choices"))
		}

		choice := resp.Choices[0]
		if choice.FinishReason == "content_filter" {
			return backoff.Permanent(fmt.Errorf("openai API filtered the response (Reason: %s)", choice.FinishReason))
		}

		c.logger.Info("LLM generation complete (OpenAI)",
			zap.Duration("duration", duration),
			zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int64("completion_tokens", resp.Usage.CompletionTokens),
			zap.Int64("total_tokens", resp.Usage.TotalTokens),
		)

		responseContent = choice.Message.Content
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffFactory(), ctx)); err != nil {
		return "", err
	}

	return responseContent, nil
}

func (c *OpenAIClient) buildParams(req schemas.GenerationRequest) openai.ChatCompletionNewParams {
	temperature := float64(c.config.Temperature)
	if req.Options.Temperature != nil {
		temperature = *req.Options.Temperature
	}
	maxTokens := req.Options.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch {
		case m.HasImage():
			// Only user turns may carry images.
			parts := []openai.ChatCompletionContentPartUnionParam{
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL(*m.Image)}),
			}
			if m.Text != "" {
				parts = append(parts, openai.TextContentPart(m.Text))
			}
			messages = append(messages, openai.UserMessage(parts))
		case m.Role == schemas.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Text))
		case m.Role == schemas.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Text))
		default:
			messages = append(messages, openai.UserMessage(m.Text))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       c.config.Model,
		Messages:    messages,
		Temperature: openai.Opt[float64](temperature),
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Opt[int64](int64(maxTokens))
	}
	return params
}

func (c *OpenAIClient) handleAPIError(apiErr *openai.Error) error {
	c.logger.Error("OpenAI API returned error status", zap.Int("status", apiErr.StatusCode), zap.Error(apiErr))
	err := fmt.Errorf("openai API error: status %d: %w", apiErr.StatusCode, apiErr)

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err) // Permanent errors.
	}
}

// Close implements schemas.LLMClient.
func (c *OpenAIClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// dataURL inlines an image as a base64 data URL.
func dataURL(img schemas.Image) string {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

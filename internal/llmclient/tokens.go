// internal/llmclient/tokens.go
package llmclient

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shopscope/api/schemas"
)

// Per-message framing overhead of the chat format.
const (
	tokensPerMessage      = 4
	tokensPerConversation = 3
)

// TokenCounter estimates the text token count of a conversation. Images are
// not counted. When the tiktoken encoding cannot be loaded it falls back to
// four characters per token.
type TokenCounter struct {
	encoding string
	logger   *zap.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter picks the encoding for model.
func NewTokenCounter(model string, logger *zap.Logger) *TokenCounter {
	encoding := "cl100k_base"
	if strings.HasPrefix(model, "gpt-4o") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "gpt-4.1") {
		encoding = "o200k_base"
	}
	return &TokenCounter{encoding: encoding, logger: logger.Named("tokens")}
}

func (t *TokenCounter) init() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.logger.Debug("Tiktoken encoding unavailable, estimating by length.", zap.String("encoding", t.encoding), zap.Error(err))
			return
		}
		t.enc = enc
	})
}

// Count returns the token estimate of a single string.
func (t *TokenCounter) Count(text string) int {
	t.init()
	if t.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessages returns the token estimate of the text of every message.
func (t *TokenCounter) CountMessages(messages []schemas.Message) int {
	if len(messages) == 0 {
		return 0
	}
	total := tokensPerConversation
	for _, m := range messages {
		total += tokensPerMessage + t.Count(string(m.Role)) + t.Count(m.Text)
	}
	return total
}

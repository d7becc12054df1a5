// internal/evaluator/conversation.go
package evaluator

import (
	"github.com/xkilldash9x/shopscope/api/schemas"
)

// Conversation is the ordered, append-only message history sent to the model
// on every turn. It is owned by a single Session and is not safe for
// concurrent use.
type Conversation struct {
	messages []schemas.Message
}

// NewConversation starts a history with the system prompt.
func NewConversation(systemPrompt string) *Conversation {
	return &Conversation{
		messages: []schemas.Message{schemas.NewTextMessage(schemas.RoleSystem, systemPrompt)},
	}
}

// Append adds m to the end of the history.
func (c *Conversation) Append(m schemas.Message) {
	c.messages = append(c.messages, m)
}

// AppendUser adds a plain text user message.
func (c *Conversation) AppendUser(text string) {
	c.Append(schemas.NewTextMessage(schemas.RoleUser, text))
}

// AppendAssistant adds a model reply.
func (c *Conversation) AppendAssistant(text string) {
	c.Append(schemas.NewTextMessage(schemas.RoleAssistant, text))
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []schemas.Message {
	return append([]schemas.Message(nil), c.messages...)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Last returns the most recent message.
func (c *Conversation) Last() schemas.Message {
	return c.messages[len(c.messages)-1]
}

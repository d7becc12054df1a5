// internal/evaluator/interfaces.go
package evaluator

import (
	"context"

	"github.com/xkilldash9x/shopscope/api/schemas"
	"github.com/xkilldash9x/shopscope/internal/framework"
)

// UserIO is the human side of the conversation.
type UserIO interface {
	// Capture blocks for the next user message. It returns
	// terminal.ErrExitRequested once the user confirms they want to quit.
	Capture(ctx context.Context) (string, error)
	Println(a ...interface{})
}

// TableStore persists the scoring framework at the end of a session.
type TableStore interface {
	Save(t *framework.Table) error
}

// TokenCounter estimates the prompt size of a conversation.
type TokenCounter interface {
	CountMessages(messages []schemas.Message) int
}

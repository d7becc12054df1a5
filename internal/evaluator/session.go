// internal/evaluator/session.go
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shopscope/api/schemas"
	"github.com/xkilldash9x/shopscope/internal/config"
	"github.com/xkilldash9x/shopscope/internal/framework"
	"github.com/xkilldash9x/shopscope/internal/observability"
	"github.com/xkilldash9x/shopscope/internal/terminal"
)

const modelErrorNotice = "ERROR: the model request failed: %v. Type a message to try again, or exit to quit."

// Dependencies are the collaborators a Session drives. Tokens and Metrics are optional.
type Dependencies struct {
	LLM     schemas.LLMClient
	Browser schemas.BrowserSession
	Table   *framework.Table
	Store   TableStore
	IO      UserIO
	Tokens  TokenCounter
	Metrics *observability.Metrics
}

// Session is the turn loop: observe, ask the model, dispatch its actions,
// repeat. It owns the conversation and shuts the browser and table down
// exactly once.
type Session struct {
	id         string
	provider   string
	maxTurns   int
	deps       Dependencies
	conv       *Conversation
	dispatcher *Dispatcher
	logger     *zap.Logger

	pending *schemas.Message

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewSession builds the system prompt from the framework and prepares the loop.
func NewSession(cfg config.Interface, deps Dependencies, logger *zap.Logger) (*Session, error) {
	if deps.LLM == nil || deps.Browser == nil || deps.Table == nil || deps.Store == nil || deps.IO == nil {
		return nil, errors.New("evaluator session requires an LLM client, browser, table, store and user IO")
	}

	evalCfg := cfg.Evaluation()
	override, err := LoadPromptOverride(evalCfg.SystemPromptFile)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	logger = logger.Named("evaluator").With(zap.String("session_id", id))
	conv := NewConversation(BuildSystemPrompt(override, deps.Table))

	maxTurns := evalCfg.MaxAutonomousTurns
	if maxTurns < 1 {
		maxTurns = 1
	}

	return &Session{
		id:         id,
		provider:   string(cfg.Agent().LLM.Provider),
		maxTurns:   maxTurns,
		deps:       deps,
		conv:       conv,
		dispatcher: NewDispatcher(deps.Browser, deps.Table, conv, deps.IO, NewArtifacts(evalCfg, logger), deps.Metrics, logger),
		logger:     logger,
	}, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// Conversation exposes the history, for inspection.
func (s *Session) Conversation() *Conversation {
	return s.conv
}

// Run drives the conversation until the user confirms exit or ctx is
// cancelled, then shuts down. A non-empty initialPrompt is used as the first
// user message instead of reading one. The error is nil on a clean exit.
func (s *Session) Run(ctx context.Context, initialPrompt string) error {
	s.logger.Info("Evaluation session started.", zap.Int("framework_rows", s.deps.Table.Len()))
	s.deps.IO.Println(Greeting)

	err := s.loop(ctx, initialPrompt)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)

	if errors.Is(err, terminal.ErrExitRequested) {
		err = nil
	}
	return errors.Join(err, shutdownErr)
}

func (s *Session) loop(ctx context.Context, initialPrompt string) error {
	if strings.TrimSpace(initialPrompt) != "" {
		s.deps.IO.Println(terminal.UserPrompt + initialPrompt)
		s.conv.AppendUser(initialPrompt)
	} else if err := s.captureUser(ctx); err != nil {
		return err
	}

	turns := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if s.pending != nil {
			s.conv.Append(*s.pending)
			s.pending = nil
		}

		reply, err := s.query(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("Model request failed.", zap.Error(err))
			s.deps.IO.Println(fmt.Sprintf(modelErrorNotice, err))
			if err := s.captureUser(ctx); err != nil {
				return err
			}
			turns = 0
			continue
		}

		s.conv.AppendAssistant(reply)
		s.deps.IO.Println("Model: " + reply)

		actions := ParseActions(reply, s.logger)
		res, err := s.dispatcher.Dispatch(ctx, actions)
		if res.Observation != nil {
			s.pending = res.Observation
		}
		if err != nil {
			return err
		}

		turns++
		switch {
		case res.Executed() == 0:
			// Plain answer; the human decides what happens next.
			turns = 0
			if err := s.captureUser(ctx); err != nil {
				return err
			}
		case turns >= s.maxTurns:
			s.logger.Info("Reached the autonomous turn limit, waiting for the user.", zap.Int("turns", turns))
			turns = 0
			if err := s.captureUser(ctx); err != nil {
				return err
			}
		}
	}
}

// captureUser blocks for the next non-empty user message.
func (s *Session) captureUser(ctx context.Context) error {
	for {
		line, err := s.deps.IO.Capture(ctx)
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) != "" {
			s.conv.AppendUser(line)
			return nil
		}
	}
}

func (s *Session) query(ctx context.Context) (string, error) {
	messages := s.conv.Messages()
	if s.deps.Tokens != nil {
		n := s.deps.Tokens.CountMessages(messages)
		s.deps.Metrics.SetPromptTokens(n)
		s.logger.Debug("Querying model.", zap.Int("messages", len(messages)), zap.Int("prompt_tokens", n))
	}

	start := time.Now()
	reply, err := s.deps.LLM.Generate(ctx, schemas.GenerationRequest{Messages: messages})
	s.deps.Metrics.ObserveModelCall(s.provider, time.Since(start), err)
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Shutdown closes the browser, then writes the scoring table. It runs once;
// later calls return the first result. A save failure is returned, since
// losing the scores is fatal.
func (s *Session) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("Shutting down evaluation session.")

		var errs []error
		if err := s.deps.Browser.Close(ctx); err != nil {
			s.logger.Warn("Browser did not close cleanly.", zap.Error(err))
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
		if err := s.deps.Store.Save(s.deps.Table); err != nil {
			s.logger.Error("Failed to save the scoring framework.", zap.Error(err))
			errs = append(errs, fmt.Errorf("failed to save scoring framework: %w", err))
		}
		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}

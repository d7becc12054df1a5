// internal/terminal/console.go
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrExitRequested is returned once the user has typed exit and confirmed it.
// End of input counts as a confirmed exit.
var ErrExitRequested = errors.New("exit requested by user")

const (
	// UserPrompt precedes every line the user types.
	UserPrompt = "You: "
	// ExitCommand starts the quit confirmation.
	ExitCommand    = "exit"
	confirmPrompt  = "Are you sure you want to quit? Type y (yes) or n (no)\n"
	maxLineLength  = 1024 * 1024
	initialBufSize = 64 * 1024
)

type lineResult struct {
	line string
	err  error
}

// Console is the line-oriented conversation surface. The conversation is
// written to out; structured logs go elsewhere.
type Console struct {
	scanner *bufio.Scanner
	out     io.Writer
	logger  *zap.Logger

	mu      sync.Mutex
	pending chan lineResult
}

// NewConsole reads lines from in and writes the conversation to out.
func NewConsole(in io.Reader, out io.Writer, logger *zap.Logger) *Console {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, initialBufSize), maxLineLength)
	return &Console{
		scanner: scanner,
		out:     out,
		logger:  logger.Named("terminal"),
	}
}

// Println writes a line of conversation output.
func (c *Console) Println(a ...interface{}) {
	fmt.Fprintln(c.out, a...)
}

// Printf writes formatted conversation output.
func (c *Console) Printf(format string, a ...interface{}) {
	fmt.Fprintf(c.out, format, a...)
}

// ReadLine prints prompt and blocks for one line. There is no timeout; only
// ctx cancellation stops the wait. It returns io.EOF at end of input.
func (c *Console) ReadLine(ctx context.Context, prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(c.out, prompt)
	}

	// A read left outstanding by a cancelled call is reused.
	c.mu.Lock()
	if c.pending == nil {
		ch := make(chan lineResult, 1)
		c.pending = ch
		go c.scan(ch)
	}
	ch := c.pending
	c.mu.Unlock()

	select {
	case res := <-ch:
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
		return res.line, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Console) scan(ch chan<- lineResult) {
	if c.scanner.Scan() {
		ch <- lineResult{line: strings.TrimRight(c.scanner.Text(), "\r")}
		return
	}
	err := c.scanner.Err()
	if err == nil {
		err = io.EOF
	}
	ch <- lineResult{err: err}
}

// Capture reads the next user message. Typing exit asks for confirmation: y
// ends the session with ErrExitRequested, anything else asks again.
func (c *Console) Capture(ctx context.Context) (string, error) {
	for {
		line, err := c.ReadLine(ctx, UserPrompt)
		if err != nil {
			return "", c.endOfInput(err)
		}
		if strings.TrimSpace(line) != ExitCommand {
			return line, nil
		}

		answer, err := c.ReadLine(ctx, confirmPrompt)
		if err != nil {
			return "", c.endOfInput(err)
		}
		if strings.TrimSpace(answer) == "y" {
			c.logger.Info("User confirmed exit.")
			return "", ErrExitRequested
		}
	}
}

func (c *Console) endOfInput(err error) error {
	if errors.Is(err, io.EOF) {
		c.logger.Info("Input closed, ending session.")
		return ErrExitRequested
	}
	return err
}

// IsNegative reports whether a follow-up answer declines to add anything.
func IsNegative(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "n", "no", "none", "nope":
		return true
	}
	return false
}

// File: cmd/shopscope/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/shopscope/cmd"
	"github.com/xkilldash9x/shopscope/internal/observability"
)

// Function variables so tests can intercept side effects.
var (
	osWriteFile  = os.WriteFile
	osExit       = os.Exit
	panicLogFile = "panic.log"
)

func main() {
	defer handlePanic()

	// Ctrl+C cancels the context; the session then closes the browser and saves scores.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	osExit(exitCode(cmd.Execute(ctx)))
}

// exitCode maps the command result to a process status. An interrupt is a
// normal way to end a session.
func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	return 1
}

// handlePanic records an unexpected crash to panicLogFile before exiting.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(2)
		return
	}
	fmt.Fprintf(os.Stderr, "\nShopScope crashed. Details logged to %s\n", panicLogFile)
	osExit(2)
}

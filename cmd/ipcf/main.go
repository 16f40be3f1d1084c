// Command ipcf protects and unprotects files through an IRM engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wippyai/irm-fileapi/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(openEngine).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 when the engine refused the operation and 1 for every other
// failure.
func exitCode(err error) int {
	if _, ok := errors.StatusOf(err); ok {
		return 2
	}
	return 1
}

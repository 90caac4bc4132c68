package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/japaniel/zimdict/pkg/config"
	"github.com/japaniel/zimdict/pkg/db"
	"github.com/japaniel/zimdict/pkg/ingest"
	"github.com/japaniel/zimdict/pkg/zim"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "zimdict:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error classes to stable process exit codes so scripted
// callers can distinguish bad config from bad input from a bad database.
func exitCode(err error) int {
	switch {
	case errors.Is(err, config.ErrInvalid):
		return 2
	case errors.Is(err, zim.ErrCorrupt):
		return 3
	case errors.Is(err, db.ErrDatabase):
		return 4
	case errors.Is(err, ingest.ErrInterrupted):
		return 5
	}
	return 1
}

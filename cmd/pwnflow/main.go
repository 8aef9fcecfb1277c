package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rb-x/pwnflow/cmd"
	"github.com/rb-x/pwnflow/internal/observability"
)

func main() {
	defer observability.Sync()

	// Interrupt signals cancel the context so long-running imports and the
	// HTTP server shut down gracefully.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

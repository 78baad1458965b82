// Command bridge runs the Telegram support bot: ticket lookups against
// Zendesk with model-written summaries.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		slog.Error("bridge stopped", "error", err)
		os.Exit(1)
	}
}

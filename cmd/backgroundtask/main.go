package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/gymtracker/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		logger := logging.WithComponent("backgroundtask")
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

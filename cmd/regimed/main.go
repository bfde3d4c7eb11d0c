package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Execute(ctx); err != nil {
		log.Error().Err(err).Msg("regimed failed")
		os.Exit(1)
	}
}

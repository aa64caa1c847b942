package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"arena-duel/server/internal/app"
	"arena-duel/server/internal/config"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("%v", err)
	}
	cfg, err := config.Peer(nil)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunPeer(ctx, cfg, nil); err != nil {
		log.Fatalf("%v", err)
	}
}

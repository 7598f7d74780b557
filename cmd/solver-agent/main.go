package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/odong444/cap-api/internal/agent"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := agent.FromEnv()
	client := agent.NewClient(cfg.ServerBaseURL)
	rt := agent.NewRuntime(cfg, client, agent.NewStubBrowser())

	if err := rt.Run(ctx); err != nil {
		log.Fatalf("agent stopped with error: %v", err)
	}
}

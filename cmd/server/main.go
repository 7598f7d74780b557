package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/odong444/cap-api/internal/api"
	"github.com/odong444/cap-api/internal/bootstrap"
	"github.com/odong444/cap-api/internal/ingest"
	"github.com/odong444/cap-api/internal/observability"
)

func main() {
	port := os.Getenv("CAP_PORT")
	if port == "" {
		port = "8080"
	}

	shutdown, err := observability.InitTracingFromEnv("cap-server")
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := bootstrap.NewEngineFromEnv(ctx)
	if err != nil {
		log.Fatalf("bootstrap engine: %v", err)
	}

	go engine.RunReaper(ctx, bootstrap.ReaperInterval())

	if amqpURL := os.Getenv("CAP_AMQP_URL"); amqpURL != "" {
		consumer := ingest.NewConsumer(engine, amqpURL, os.Getenv("CAP_AMQP_QUEUE"))
		go consumer.Run(ctx)
	}

	server := api.NewServer(engine)
	log.Printf("cap server listening on :%s", port)
	if err := http.ListenAndServe(":"+port, server.Handler()); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"vita-be/internal/bootstrap"
	"vita-be/internal/config"
	"vita-be/internal/server"
	"vita-be/internal/tracer"

	"golang.org/x/sync/errgroup"
)

func main() {
	// 0. Initialize Tracer (no-op unless OTEL_ENABLED)
	shutdownTracer := tracer.InitTracer(tracer.ServiceName)
	defer shutdownTracer(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Load Configuration
	cfg := config.Load()

	// 2. Bootstrap Dependencies (Container)
	container, err := bootstrap.NewContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("[FATAL] Failed to bootstrap: %v", err)
	}
	defer container.Close()

	// 3. Initialize Server
	srv := server.New(cfg, container)

	// 4. Start Background Services
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Println("Background: Starting Ingest Consumer...")
		return container.IngestService.Consume(gctx)
	})
	if container.NotificationService != nil {
		g.Go(func() error {
			return container.NotificationService.Start(gctx)
		})
	}

	// 5. Run Server
	g.Go(srv.Run)
	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown(10 * time.Second)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("[FATAL] %v", err)
	}
	log.Println("Server stopped")
}

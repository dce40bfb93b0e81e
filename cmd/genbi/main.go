package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/lucamorandi/genbi/internal/asking"
	"github.com/lucamorandi/genbi/internal/config"
	"github.com/lucamorandi/genbi/internal/conversation"
	"github.com/lucamorandi/genbi/internal/httpapi"
	"github.com/lucamorandi/genbi/internal/inference"
	"github.com/lucamorandi/genbi/internal/observability"
	"github.com/lucamorandi/genbi/internal/preview"
	"github.com/lucamorandi/genbi/internal/task"
	"github.com/lucamorandi/genbi/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := conversation.NewStore(runCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("conversation store init failed: %v", err)
	}
	defer store.Close()

	bindings, err := task.NewBindingStore(runCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("task binding store init failed: %v", err)
	}
	defer bindings.Close()

	if cfg.DatabaseURL == "" {
		log.Printf("no DATABASE_URL set, using in-memory stores")
	}

	client := inference.NewClient(cfg.AIServiceURL, cfg.AIServiceTimeout)
	tel := telemetry.New(cfg.TelemetryURL)
	runner := preview.NewHTTPRunner(cfg.EngineURL)

	service := asking.New(asking.Config{
		PollInterval:    cfg.PollInterval,
		AskHistoryLimit: cfg.AskHistoryLimit,
		PreviewLimit:    cfg.PreviewLimit,
	}, client, store, bindings, runner, tel, metrics)

	api := httpapi.New(service, client, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	g, ctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return service.Run(ctx) })
	g.Go(func() error { return tel.Run(ctx) })
	g.Go(func() error {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Printf("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
			_ = httpServer.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("shutdown complete")
}

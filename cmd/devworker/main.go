package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"brand-asset-orchestrator/internal/config"
	"brand-asset-orchestrator/internal/devworker"
	"brand-asset-orchestrator/internal/logger"
	"brand-asset-orchestrator/internal/objectstore"
	"brand-asset-orchestrator/internal/telemetry"
	"brand-asset-orchestrator/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	objects, err := objectstore.New(ctx, cfg)
	if err != nil {
		log.Fatal("object store", "error", err)
	}
	if cfg.WorkerCallbackToken == "" {
		log.Warn("WORKER_CALLBACK_TOKEN is empty; the API will reject callbacks")
	}

	worker, err := devworker.New(devworker.Options{
		Objects:     objects,
		Reporter:    webhook.NewReporter(cfg.APIBaseURL, cfg.WorkerCallbackToken, cfg.WebhookTimeout),
		Concurrency: cfg.DevWorkerConcurrency,
		MaxAttempts: cfg.DevWorkerMaxAttempts,
		Delay:       cfg.DevWorkerDelay,
		Logger:      log,
	})
	if err != nil {
		log.Fatal("init devworker", "error", err)
	}

	servers := []*http.Server{
		{Addr: cfg.DevWorkerAddr, Handler: worker.Router(), ReadHeaderTimeout: 10 * time.Second},
		{Addr: cfg.MetricsAddr, Handler: telemetry.Handler(), ReadHeaderTimeout: 10 * time.Second},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			log.Info("devworker listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(shutdownCtx)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("devworker stopped", "error", err)
	}
}

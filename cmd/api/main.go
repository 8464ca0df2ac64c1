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

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"brand-asset-orchestrator/internal/api"
	"brand-asset-orchestrator/internal/auth"
	"brand-asset-orchestrator/internal/config"
	"brand-asset-orchestrator/internal/logger"
	"brand-asset-orchestrator/internal/objectstore"
	"brand-asset-orchestrator/internal/ratelimit"
	"brand-asset-orchestrator/internal/realtime"
	"brand-asset-orchestrator/internal/store"
	"brand-asset-orchestrator/internal/submit"
	"brand-asset-orchestrator/internal/watch"
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

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("api stopped", "error", err)
	}
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer st.Close()

	applied, err := st.RunMigrations(ctx)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	for _, name := range applied {
		log.Info("migration applied", "name", name)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	objects, err := objectstore.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}

	routes := cfg.WebhookRoutes()
	for kind, url := range routes {
		if url == "" {
			log.Warn("no webhook configured; submissions will fail", "kind", kind)
		}
	}

	submitter, err := submit.New(submit.Options{
		Jobs:           st,
		Brands:         st,
		Objects:        objects,
		Dispatcher:     webhook.New(webhook.Options{Timeout: cfg.WebhookTimeout}),
		Routes:         routes,
		MaxUploadBytes: cfg.UploadMaxBytes,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	bus := realtime.NewBus(rdb, cfg.RealtimeChannelPrefix, log)
	relay, err := realtime.NewRelay(realtime.RelayOptions{
		Source:    st,
		Publisher: bus,
		Locker:    redislock.New(rdb),
		Logger:    log,
	})
	if err != nil {
		return err
	}

	watcher, err := watch.New(watch.Options{
		Reader:   st,
		Feed:     bus,
		Interval: cfg.WatchPollInterval,
		MaxPolls: cfg.MaxPolls,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	verifier := auth.NewVerifier(cfg.AuthJWTSecret, cfg.IsDev(), log)
	limiter := ratelimit.New(rdb, ratelimit.Options{
		Capacity:        cfg.RateLimitCapacity,
		RefillPerSecond: cfg.RateLimitRefill,
		Logger:          log,
	})

	opts := api.Options{
		Submitter:      submitter,
		Store:          st,
		Watcher:        watcher,
		Auth:           verifier.Middleware,
		Limiter:        limiter.Middleware,
		CallbackToken:  cfg.WorkerCallbackToken,
		MaxUploadBytes: cfg.UploadMaxBytes,
		Logger:         log,
	}
	if local, ok := objects.(*objectstore.Local); ok {
		opts.ObjectDir = local.Dir()
	}
	server, err := api.New(opts)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", "addr", httpServer.Addr, "env", cfg.Env)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

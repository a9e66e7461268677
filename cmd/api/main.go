package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"shiprelay/internal/api"
	"shiprelay/internal/auth"
	"shiprelay/internal/carrier"
	"shiprelay/internal/config"
	"shiprelay/internal/events"
	"shiprelay/internal/geocode"
	"shiprelay/internal/ingest"
	"shiprelay/internal/logging"
	"shiprelay/internal/metrics"
	"shiprelay/internal/store"
	"shiprelay/internal/sweep"
	"shiprelay/internal/transform"
	"shiprelay/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	log := logging.New("shiprelay", cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err := run(cfg, log); err != nil {
		log.Error("shiprelay stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	if cfg.WebhookSecret == "" {
		log.Warn("SHOPIFY_WEBHOOK_SECRET is empty; every webhook will be rejected")
	}
	if cfg.Carrier.Email == "" || cfg.Carrier.Password == "" {
		log.Warn("carrier credentials are not set; logins will fail")
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	metrics.RegisterDefault()

	st, err := store.Open(cfg.Storage, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	broker, closeBroker, err := openBroker(cfg, st, log)
	if err != nil {
		return err
	}
	defer closeBroker()

	client := carrier.NewClient(cfg.Carrier.BaseURL, cfg.Carrier.Timeout, log)
	creds := auth.NewCache(client, cfg.Carrier.Email, cfg.Carrier.Password, cfg.Carrier.TokenTTL, log)

	pipeline := &ingest.Pipeline{
		Geocoder:    geocode.NewGoogle(cfg.Geocode.BaseURL, cfg.Geocode.APIKey, cfg.Geocode.Timeout, log),
		Transformer: transform.New(cfg.Defaults),
		Creds:       creds,
		Carrier:     client,
		Store:       st,
		Events:      broker,
		Log:         log,
	}
	if cfg.DedupOrders {
		pipeline.Ledger = st
	}
	worker := webhooks.NewWorker(cfg.IngestConcurrency, cfg.IngestTimeout, log)

	sweeper := sweep.New(st, creds, client, cfg.Sweep.RPS, loc, cfg.Sweep.PickupHour, cfg.Carrier.VehicleType, log)
	sweeper.Events = broker
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if !cfg.Sweep.Disabled {
		sched := sweep.NewScheduler(sweeper, cfg.Sweep.Weekday, cfg.Sweep.Hour, cfg.Sweep.Minute, loc, log)
		sched.Start(ctx)
		defer sched.Stop()
	}

	srvDeps := api.NewServer(cfg, st, pipeline, worker, sweeper, broker, log)
	srvDeps.Health = st

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srvDeps.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.IngestTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	drainWorker(shutdownCtx, worker, cfg.IngestTimeout, log)
	return nil
}

// drainWorker waits for accepted orders before the deferred store and broker
// closes run. Tasks still running after the grace period are logged by name so
// their orders can be checked against the carrier by hand.
func drainWorker(ctx context.Context, w *webhooks.Worker, grace time.Duration, log *slog.Logger) {
	if err := w.Stop(ctx); err == nil {
		return
	}
	log.Warn("waiting for in-flight orders before closing the store", "tasks", w.InFlight(), "grace", grace.String())
	graceCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := w.Stop(graceCtx); err != nil {
		log.Error("in-flight orders abandoned at shutdown; reconcile them manually", "tasks", w.InFlight(), "err", err)
	}
}

// openBroker shares events across replicas through Redis pub/sub when REDIS_URL is set,
// reusing the store's connection when the store is Redis too.
func openBroker(cfg config.Config, st *store.Observed, log *slog.Logger) (events.Broker, func(), error) {
	if cfg.Storage.RedisURL == "" {
		return events.NewMemory(), func() {}, nil
	}
	log.Info("event broker", "backend", "redis")
	if rs, ok := st.Backend.(*store.Redis); ok {
		return events.NewRedisBroker(rs.Client(), cfg.Storage.RedisKey, log), func() {}, nil
	}
	opt, err := redis.ParseURL(cfg.Storage.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(opt)
	return events.NewRedisBroker(rdb, cfg.Storage.RedisKey, log), func() { _ = rdb.Close() }, nil
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"groupremind/internal/cache"
	"groupremind/internal/config"
	"groupremind/internal/core"
	"groupremind/internal/db"
	"groupremind/internal/delivery"
	"groupremind/internal/dispatch"
	"groupremind/internal/logger"
	"groupremind/internal/metrics"
)

// Standalone dispatch worker: runs the periodic trigger without the CRUD API,
// for deployments that separate the delivery path from the web surface.
func main() {
	var exitCode int
	defer func() { os.Exit(exitCode) }()

	cfg := config.Load()
	log := logger.New("reminder-dispatcher", cfg.LogLevel)

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := db.Connect(rootCtx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Error("database connect")
		exitCode = 1
		return
	}
	defer pool.Close()
	if err := db.Migrate(rootCtx, pool); err != nil {
		log.WithError(err).Error("apply migrations")
		exitCode = 1
		return
	}

	metrics.MustRegister()
	poolStats := metrics.NewPoolStats(pool)
	stop := make(chan struct{})
	defer close(stop)
	go poolStats.Start(cfg.PollInterval, stop)

	store := &core.Store{DB: pool}
	engine := dispatch.New(store, newDeliveryClient(cfg), newRecipientCache(rootCtx, cfg, log), log, dispatch.Options{
		PollInterval:      cfg.PollInterval,
		SendCushion:       cfg.SendCushion,
		StaleClaimAfter:   cfg.StaleClaimAfter,
		FanoutConcurrency: cfg.FanoutConcurrency,
		SendTimeout:       cfg.SendTimeout,
		DeliveryQPS:       cfg.DeliveryQPS,
		DeliveryBurst:     cfg.DeliveryBurst,
		DBBackoffMin:      cfg.DBBackoffMin,
		DBBackoffMax:      cfg.DBBackoffMax,
	})

	go serveHealthz(cfg.HealthAddr)

	if err := engine.RunLoop(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("dispatch loop exited")
		exitCode = 1
		return
	}
}

func newDeliveryClient(cfg config.Config) delivery.Client {
	if cfg.DeliveryDriver == "dummy" {
		return delivery.NewDummy()
	}
	return delivery.NewTelegram(cfg.TelegramToken, cfg.TelegramAPIURL, cfg.SendTimeout)
}

func newRecipientCache(ctx context.Context, cfg config.Config, log *logrus.Logger) *cache.RecipientCache {
	if cfg.RedisAddr == "" {
		return nil
	}
	client, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.WithError(err).Warn("redis unavailable, recipient cache disabled")
		return nil
	}
	return cache.NewRecipientCache(client, cfg.CacheTTL, log)
}

func serveHealthz(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	_ = http.ListenAndServe(addr, mux)
}

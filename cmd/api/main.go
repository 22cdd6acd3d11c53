package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"groupremind/internal/cache"
	"groupremind/internal/config"
	"groupremind/internal/core"
	"groupremind/internal/db"
	"groupremind/internal/delivery"
	"groupremind/internal/dispatch"
	httpapi "groupremind/internal/http"
	"groupremind/internal/logger"
	"groupremind/internal/metrics"
)

func main() {
	cfg := config.Load()
	log := logger.New("reminder-api", cfg.LogLevel)

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := db.Connect(rootCtx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database connect")
	}
	defer pool.Close()
	if err := db.Migrate(rootCtx, pool); err != nil {
		log.WithError(err).Fatal("apply migrations")
	}

	metrics.MustRegister()

	store := &core.Store{DB: pool}
	recCache := newRecipientCache(rootCtx, cfg, log)
	engine := dispatch.New(store, newDeliveryClient(cfg), recCache, log, engineOptions(cfg))

	// Periodic trigger runs inside the API process.
	go func() {
		if err := engine.RunLoop(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("dispatch loop exited")
		}
	}()

	srv := httpapi.NewServer(store, engine, recCache, log)
	server := &http.Server{
		Addr:         cfg.HTTPHost + ":" + cfg.HTTPPort,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second, // send_due runs a full cycle in-request
	}

	go func() {
		log.WithField("addr", server.Addr).Info("HTTP listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-rootCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
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
		// cache is an optimization; run without it
		log.WithError(err).Warn("redis unavailable, recipient cache disabled")
		return nil
	}
	return cache.NewRecipientCache(client, cfg.CacheTTL, log)
}

func engineOptions(cfg config.Config) dispatch.Options {
	return dispatch.Options{
		PollInterval:      cfg.PollInterval,
		SendCushion:       cfg.SendCushion,
		StaleClaimAfter:   cfg.StaleClaimAfter,
		FanoutConcurrency: cfg.FanoutConcurrency,
		SendTimeout:       cfg.SendTimeout,
		DeliveryQPS:       cfg.DeliveryQPS,
		DeliveryBurst:     cfg.DeliveryBurst,
		DBBackoffMin:      cfg.DBBackoffMin,
		DBBackoffMax:      cfg.DBBackoffMax,
	}
}

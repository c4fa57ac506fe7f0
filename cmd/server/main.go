package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/kairavb/lyftr-a001/internal/api"
	"github.com/kairavb/lyftr-a001/internal/cache"
	"github.com/kairavb/lyftr-a001/internal/common"
	"github.com/kairavb/lyftr-a001/internal/events"
	"github.com/kairavb/lyftr-a001/internal/ingest"
	"github.com/kairavb/lyftr-a001/internal/metrics"
	"github.com/kairavb/lyftr-a001/internal/store"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("lyftr")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := common.NewLogger(cfg.ServiceName, cfg.LogLevel)

	shutdown, err := common.SetupTracing(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise telemetry")
	}
	defer common.ShutdownTelemetry(context.Background(), shutdown)

	var (
		st         store.MessageStore
		closeStore func()
	)
	connect := func() error {
		var oerr error
		st, closeStore, oerr = store.Open(ctx, cfg.DatabaseURL)
		return oerr
	}
	if err := backoff.Retry(connect, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)); err != nil {
		logger.Fatal().Err(err).Msg("open message store")
	}
	defer closeStore()

	collector := metrics.NewCollector()

	var publisher ingest.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.MessageEventsTopic)
		defer kp.Close()
		publisher = kp
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.MessageEventsTopic).Msg("event publishing enabled")
	}

	var statsCache cache.ResponseCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		statsCache = cache.NewRedisCache(rdb, cfg.StatsCacheTTL)
		logger.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.StatsCacheTTL).Msg("stats cache enabled")
	}

	protocol := ingest.NewProtocol(st, collector, cfg.WebhookSecret, publisher, logger)
	server := api.NewServer(st, protocol, collector, statsCache, cfg.WebhookSecret != "", logger)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.HTTPPort),
		Handler: server.Router(),
	}

	go func() {
		logger.Info().Int("port", cfg.HTTPPort).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

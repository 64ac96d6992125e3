package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	fcapp "github.com/ringlogic/fightcore/internal/app"
	"github.com/ringlogic/fightcore/internal/cache"
	"github.com/ringlogic/fightcore/internal/config"
	"github.com/ringlogic/fightcore/internal/ingest/worker"
	"github.com/ringlogic/fightcore/internal/storage"
	"github.com/ringlogic/fightcore/pkg/logger"
	"github.com/ringlogic/fightcore/pkg/metrics"

	"github.com/go-redis/redis/v8"
)

func main() {
	logLevel := flag.String("log-level", "", "overrides LOG_LEVEL from the environment")
	metricsAddr := flag.String("metrics-addr", "", "overrides the metrics listen address (host:port)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	appLog := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	})

	store := storage.NewMemory()
	statsCache := buildStatsCache(cfg, appLog)

	application, err := fcapp.New(cfg, store, statsCache, appLog)
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	rootCtx := context.Background()
	if err := application.Start(rootCtx); err != nil {
		log.Fatalf("start application: %v", err)
	}
	appLog.Info("fightcore started")

	dialWorkers(rootCtx, application, cfg.WorkerEndpoints, appLog)

	metricsSrv := startMetricsServer(cfg, *metricsAddr, appLog)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	appLog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

// buildStatsCache selects the Stats Aggregator's cache backend: a shared
// Redis instance when REDIS_ADDR is configured and reachable, falling back
// to the in-memory cache otherwise so a missing Redis never blocks startup.
func buildStatsCache(cfg *config.Config, log *logger.Logger) cache.Cache {
	if cfg.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable, falling back to in-memory stats cache")
		_ = client.Close()
		return nil
	}

	return cache.NewRedisCache(client, time.Second, log)
}

// dialWorkers connects every configured CV worker endpoint as a websocket
// client and registers it into the live pool. A worker that fails to dial
// at startup is logged and skipped rather than failing the whole process;
// it is not retried and does not join the pool.
func dialWorkers(ctx context.Context, application *fcapp.App, endpoints []string, log *logger.Logger) {
	for _, endpoint := range endpoints {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			log.WithField("endpoint", endpoint).WithError(err).Warn("failed to dial CV worker")
			continue
		}
		id, err := application.RegisterWorker(ctx, endpoint, worker.NewWebSocketTransport(conn))
		if err != nil {
			log.WithField("endpoint", endpoint).WithError(err).Warn("failed to register CV worker")
			continue
		}
		log.WithField("endpoint", endpoint).WithField("worker_id", id).Info("registered CV worker")
	}
}

// startMetricsServer exposes the Prometheus collector registry on /metrics
// only; fightcore has no business HTTP or WebSocket surface of its own.
func startMetricsServer(cfg *config.Config, addrOverride string, log *logger.Logger) *http.Server {
	addr := addrOverride
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.MetricsPort)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped unexpectedly")
		}
	}()
	log.WithField("addr", addr).Info("metrics server listening")
	return srv
}

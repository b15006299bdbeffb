/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the order fulfillment server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (config.yaml + environment)
  2. Build the logger
  3. Open the order store selected by STORAGE_BACKEND
  4. Pick the order lock (Redis when REDIS_ADDR is set)
  5. Pick the notifier (Kafka when KAFKA_BROKERS is set, else log)
  6. Wire the fulfillment service, start the audit retrier
  7. Serve HTTP until SIGINT/SIGTERM

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SERVER_SHUTDOWN_TIMEOUT)
  3. Flush the audit retry queue once more
  4. Drain queued notifications
  5. Close the lock client and the store

EXAMPLES:
  # Run with the default sqlite file
  ./server

  # Run in memory
  STORAGE_BACKEND=memory ./server

  # Run against postgres with redis locks and kafka notices
  STORAGE_BACKEND=postgres DATABASE_DSN=postgres://... \
  REDIS_ADDR=localhost:6379 KAFKA_BROKERS=localhost:9092 ./server

SEE ALSO:
  - config/config.go: Every setting and its default
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/eggstand/api"
	"github.com/warp/eggstand/config"
	"github.com/warp/eggstand/fulfillment"
	"github.com/warp/eggstand/fulfillment/store"
	"github.com/warp/eggstand/lock/redislock"
	"github.com/warp/eggstand/logger"
	"github.com/warp/eggstand/metrics"
	"github.com/warp/eggstand/notify"
	"github.com/warp/eggstand/store/postgres"
	"github.com/warp/eggstand/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

// backend is an opened order store and its lifecycle hooks.
type backend struct {
	catalog fulfillment.OrderCatalog
	health  api.HealthChecker
	close   func()
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		log.Warn("using in-memory store; orders are lost on restart")
		return &backend{catalog: store.NewMemory(), close: func() {}}, nil

	case config.BackendSQLite:
		st, err := sqlite.New(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.Storage.SQLitePath, err)
		}
		log.Info("using sqlite store", zap.String("path", cfg.Storage.SQLitePath))
		return &backend{
			catalog: st,
			health:  st.Ping,
			close:   func() { _ = st.Close() },
		}, nil

	case config.BackendPostgres:
		if cfg.Postgres.AutoMigrate {
			if err := postgres.Migrate(ctx, cfg.Postgres.DSN); err != nil {
				return nil, err
			}
			log.Info("postgres migrations applied")
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		log.Info("using postgres store", zap.Int32("max_conns", cfg.Postgres.MaxConns))
		return &backend{
			catalog: postgres.NewStore(pool),
			health:  pool.Ping,
			close:   pool.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// Store
	be, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.close()

	// Lock
	var locker fulfillment.Locker = fulfillment.NewKeyedMutex()
	if cfg.Redis.Addr != "" {
		rl, err := redislock.New(cfg.Redis, log)
		if err != nil {
			return err
		}
		defer func() { _ = rl.Close() }()
		locker = rl
		log.Info("using redis order lock", zap.String("addr", cfg.Redis.Addr))
	}

	// Metrics
	m := metrics.New(prometheus.DefaultRegisterer)

	// Notifications
	var producer notify.Producer
	if brokers := cfg.Kafka.BrokerList(); len(brokers) > 0 {
		producer = notify.NewKafkaProducer(cfg.Kafka)
		log.Info("sending notices to kafka",
			zap.Strings("brokers", brokers),
			zap.String("topic", cfg.Kafka.Topic))
	} else {
		producer = notify.NewLogProducer(log)
	}
	dispatcher := notify.NewDispatcher(producer, notify.Options{
		Workers:   cfg.Notify.Workers,
		QueueSize: cfg.Notify.QueueSize,
		Timeout:   cfg.Notify.Timeout,
	}, m, log)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			log.Warn("closing notifier", zap.Error(err))
		}
	}()

	// Service
	svc := fulfillment.NewService(fulfillment.Deps{
		Store:    be.catalog,
		Locker:   locker,
		Notifier: dispatcher,
		Observer: m,
		Logger:   log,
		Policy: fulfillment.Policy{
			StrictOverDelivery: cfg.Fulfillment.StrictOverDelivery,
			Location:           cfg.Fulfillment.Location(),
		},
		SaveAttempts: cfg.Fulfillment.SaveAttempts,
	})
	svc.Retrier.Interval = cfg.Fulfillment.AuditRetryInterval
	svc.Retrier.MaxAttempts = cfg.Fulfillment.AuditRetryAttempts
	svc.Retrier.Start()
	defer svc.Retrier.Stop()

	// HTTP
	router := api.NewRouter(api.NewHandler(svc, be.health, log), api.RouterOptions{
		CORS:    cfg.CORS,
		Logger:  log,
		Metrics: m.Middleware,
	})
	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("backend", cfg.Storage.Backend),
			zap.Bool("strict_over_delivery", cfg.Fulfillment.StrictOverDelivery))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped", zap.Int("audit_pending", svc.Retrier.Pending()))
	return nil
}

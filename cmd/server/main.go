package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/counter"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/migrations"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/notify"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/ranking"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/storage"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/tier"
	"github.com/eerdenee/nutgiin-delguur-sub001/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// listingStore 服務需要的完整存儲介面
type listingStore interface {
	internal.ListingReader
	tier.Store
	counter.Persister
	internal.Pinger
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 載入配置
	config, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 設定日誌
	log, closer, err := logger.New(config.LogOptions())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closer.Close()

	ctx := context.Background()
	checks := make(map[string]internal.Pinger)

	// 持久化存儲
	var store listingStore
	switch config.Storage.Backend {
	case internal.BackendMemory:
		log.Warn("using in-memory storage, data is lost on restart")
		store = storage.NewMemory()

	default:
		pool, err := connectPostgres(ctx, config, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = storage.NewPostgres(pool)
	}
	checks["storage"] = store

	// 計數緩衝區
	var buffer counter.Store
	switch config.Counter.Backend {
	case internal.BackendRedis:
		client, err := connectRedis(ctx, config)
		if err != nil {
			return err
		}
		defer client.Close()

		rb := counter.NewRedisBuffer(client, config.Redis.KeyPrefix)
		buffer = rb
		checks["redis"] = rb
		log.Info("using redis counter buffer", "addr", config.Redis.Addr)

	default:
		buffer = counter.NewBuffer()
	}

	// 晉升通知
	var notifier notify.Notifier
	switch config.Tier.Notifier {
	case internal.NotifierNATS:
		nn, err := notify.NewNATSNotifier(config.NATS, log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer func() {
			if err := nn.Close(); err != nil {
				log.Error("failed to close nats", "error", err)
			}
		}()
		notifier = nn
		checks["nats"] = nn

	default:
		notifier = notify.NewLogNotifier(log)
	}

	// 背景工作：計數刷新 + 等級評估
	classifier := ranking.NewClassifier(config.RankingConfig())
	flusher := counter.NewFlusher(buffer, store, config.FlusherConfig(), log)
	scheduler := tier.NewScheduler(store, classifier, notifier, config.TierConfig(), log)

	flusher.Start()
	scheduler.Start()

	handler := internal.NewHandler(internal.HandlerDeps{
		Buffer:     buffer,
		Listings:   store,
		Classifier: classifier,
		Flusher:    flusher,
		Tiers:      scheduler,
		Checks:     checks,
	}, log)

	// 設定 HTTP 伺服器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting server",
			"port", config.Server.Port,
			"storage", config.Storage.Backend,
			"counter_backend", config.Counter.Backend,
			"notifier", config.Tier.Notifier)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()

	// 先停止接收請求，再把緩衝區剩餘的增量寫入
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown server", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("failed to force close server", "error", closeErr)
		}
	}

	scheduler.Stop()
	flusher.Stop(shutdownCtx)

	log.Info("server stopped")
	return serveErr
}

// connectPostgres 建立連線池並執行遷移
func connectPostgres(ctx context.Context, config *internal.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	dsn := config.PostgresDSN()

	m, err := migrations.New(dsn, log)
	if err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if err := m.Close(); err != nil {
		log.Warn("failed to close migrator", "error", err)
	}

	pgConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pgConfig.MaxConns = config.Postgres.MaxConns
	pgConfig.MinConns = config.Postgres.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// connectRedis 建立 Redis 客戶端
func connectRedis(ctx context.Context, config *internal.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Redis.Addr,
		Password:     config.Redis.Password,
		DB:           config.Redis.DB,
		PoolSize:     config.Redis.PoolSize,
		MinIdleConns: config.Redis.MinIdleConns,
		MaxRetries:   config.Redis.MaxRetries,
		ReadTimeout:  config.Redis.ReadTimeout,
		WriteTimeout: config.Redis.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

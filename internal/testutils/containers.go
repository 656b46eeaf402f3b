// Package testutils 提供測試用的共用工具
//
// 測試容器（testcontainers）：
//   - PostgreSQL：執行 internal/migrations 的正式 schema
//   - Redis：共享計數緩衝區
//
// 容器在測試結束時自動清理；testing.Short() 時直接跳過。
package testutils

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/migrations"
	"github.com/eerdenee/nutgiin-delguur-sub001/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresEnv PostgreSQL 測試環境
type PostgresEnv struct {
	Pool *pgxpool.Pool
	DSN  string
}

// SetupPostgres 啟動 PostgreSQL 容器並執行遷移
func SetupPostgres(t testing.TB) *PostgresEnv {
	t.Helper()
	skipIfShort(t)

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	m, err := migrations.New(dsn, TestLogger())
	if err != nil {
		t.Fatalf("failed to create migrator: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	_ = m.Close()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("failed to parse postgres config: %v", err)
	}
	config.MaxConns = 10
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping postgres: %v", err)
	}

	return &PostgresEnv{Pool: pool, DSN: dsn}
}

// Truncate 清空所有表（測試之間使用）
func (env *PostgresEnv) Truncate(t testing.TB) {
	t.Helper()

	if _, err := env.Pool.Exec(context.Background(),
		`TRUNCATE TABLE tier_promotions, listings CASCADE`); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

// SetupRedis 啟動 Redis 容器並返回客戶端
func SetupRedis(t testing.TB) *redis.Client {
	t.Helper()
	skipIfShort(t)

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         endpoint,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
	t.Cleanup(func() { _ = client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}

	return client
}

// TestLogger 測試用 logger（只輸出 warn 以上，減少噪音）
func TestLogger() *slog.Logger {
	return slog.New(logger.NewHandler(os.Stdout, logger.Options{Level: "warn", Format: "text"}))
}

func skipIfShort(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

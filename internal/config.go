package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/counter"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/notify"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/ranking"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/tier"
	"github.com/eerdenee/nutgiin-delguur-sub001/pkg/logger"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 存儲與元件後端
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	NotifierLog     = "log"
	NotifierNATS    = "nats"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Storage struct {
		Backend string `yaml:"backend"` // postgres 或 memory
	} `yaml:"storage"`

	Redis struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		MinIdleConns int           `yaml:"min_idle_conns"`
		MaxRetries   int           `yaml:"max_retries"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		KeyPrefix    string        `yaml:"key_prefix"`
	} `yaml:"redis"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		SSLMode  string `yaml:"sslmode"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	NATS notify.NATSConfig `yaml:"nats"`

	Counter struct {
		Backend           string        `yaml:"backend"` // memory（單實例）或 redis（多實例共用）
		FlushInterval     time.Duration `yaml:"flush_interval"`
		MinFlushThreshold int64         `yaml:"min_flush_threshold"`
		WriteTimeout      time.Duration `yaml:"write_timeout"`
	} `yaml:"counter"`

	Ranking ranking.Config `yaml:"ranking"`

	Tier struct {
		Interval time.Duration `yaml:"interval"`
		Notifier string        `yaml:"notifier"` // log 或 nats
	} `yaml:"tier"`

	Log struct {
		Level     string `yaml:"level"`
		Format    string `yaml:"format"`
		Output    string `yaml:"output"`
		AddSource bool   `yaml:"add_source"`
		TimeZone  string `yaml:"time_zone"`
	} `yaml:"log"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 5 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Storage.Backend = BackendPostgres

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.MinIdleConns = 2
	cfg.Redis.MaxRetries = 3
	cfg.Redis.ReadTimeout = 3 * time.Second
	cfg.Redis.WriteTimeout = 3 * time.Second
	cfg.Redis.KeyPrefix = "counter:buffer"

	cfg.Postgres.Host = "localhost"
	cfg.Postgres.Port = 5432
	cfg.Postgres.User = "postgres"
	cfg.Postgres.DBName = "listings"
	cfg.Postgres.SSLMode = "disable"
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2

	cfg.NATS = notify.DefaultNATSConfig()

	flusher := counter.DefaultFlusherConfig()
	cfg.Counter.Backend = BackendMemory
	cfg.Counter.FlushInterval = flusher.Interval
	cfg.Counter.MinFlushThreshold = flusher.MinThreshold
	cfg.Counter.WriteTimeout = 5 * time.Second

	cfg.Ranking = ranking.DefaultConfig()

	cfg.Tier.Interval = time.Hour
	cfg.Tier.Notifier = NotifierLog

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Log.Output = "stdout"
	cfg.Log.TimeZone = "Asia/Ulaanbaatar"

	return cfg
}

// LoadConfig 載入配置
//
// 順序：.env（不存在時略過）→ 預設值 → YAML 檔案 → 環境變數覆蓋。
// path 為空時只使用預設值與環境變數。
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 - path 來自命令列參數
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv 環境變數覆蓋（生產環境常用）
func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Postgres.Password = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate 檢查配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}

	switch c.Storage.Backend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", BackendPostgres, BackendMemory, c.Storage.Backend)
	}

	switch c.Counter.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("counter.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Counter.Backend)
	}
	if c.Counter.FlushInterval <= 0 {
		return fmt.Errorf("counter.flush_interval must be positive")
	}
	if c.Counter.MinFlushThreshold < 1 {
		return fmt.Errorf("counter.min_flush_threshold must be at least 1")
	}

	switch c.Tier.Notifier {
	case NotifierLog, NotifierNATS:
	default:
		return fmt.Errorf("tier.notifier must be %q or %q, got %q", NotifierLog, NotifierNATS, c.Tier.Notifier)
	}
	if c.Tier.Interval <= 0 {
		return fmt.Errorf("tier.interval must be positive")
	}

	return c.Ranking.Validate()
}

// PostgresDSN 生成 PostgreSQL 連線字串（URL 形式，pgx 與 golang-migrate 共用）
func (c *Config) PostgresDSN() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:   net.JoinHostPort(c.Postgres.Host, strconv.Itoa(c.Postgres.Port)),
		Path:   "/" + c.Postgres.DBName,
	}
	if c.Postgres.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.Postgres.SSLMode}}.Encode()
	}
	return u.String()
}

// RankingConfig 評分與分級參數
func (c *Config) RankingConfig() ranking.Config {
	return c.Ranking
}

// FlusherConfig 計數刷新參數
func (c *Config) FlusherConfig() counter.FlusherConfig {
	cfg := counter.DefaultFlusherConfig()
	cfg.Interval = c.Counter.FlushInterval
	cfg.MinThreshold = c.Counter.MinFlushThreshold
	cfg.WriteTimeout = c.Counter.WriteTimeout
	return cfg
}

// TierConfig 等級評估排程參數
func (c *Config) TierConfig() tier.Config {
	return tier.Config{Interval: c.Tier.Interval}
}

// LogOptions 日誌參數
func (c *Config) LogOptions() logger.Options {
	return logger.Options{
		Level:     c.Log.Level,
		Format:    c.Log.Format,
		Output:    c.Log.Output,
		AddSource: c.Log.AddSource,
		TimeZone:  c.Log.TimeZone,
	}
}

// Package migrations 管理 listings 資料表結構（SQL 檔案嵌入二進位檔）
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirty 上一次遷移中斷，需要人工確認後用 Force 標記版本
var ErrDirty = errors.New("schema is dirty")

// Status 資料表結構狀態
type Status struct {
	Current uint `json:"current"`
	Latest  uint `json:"latest"`
	Dirty   bool `json:"dirty"`
}

// Pending 尚未套用的遷移數量
func (s Status) Pending() int {
	if s.Latest <= s.Current {
		return 0
	}
	return int(s.Latest - s.Current)
}

// Migrator 套用嵌入的 listings / tier_promotions 遷移
type Migrator struct {
	migrate *migrate.Migrate
	latest  uint
	logger  *slog.Logger
}

// New 建立遷移管理器；databaseURL 必須是 postgres:// 形式
func New(databaseURL string, logger *slog.Logger) (*Migrator, error) {
	latest, err := latestVersion()
	if err != nil {
		return nil, err
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect migrations: %w", err)
	}

	logger = logger.With("component", "migrations")
	m.Log = migrateLogger{logger: logger}

	return &Migrator{
		migrate: m,
		latest:  latest,
		logger:  logger,
	}, nil
}

// latestVersion 掃描嵌入的 SQL 檔案取得最新版本（每個版本遞增，版本號連續）
func latestVersion() (uint, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("open embedded migrations: %w", err)
	}
	defer source.Close()

	version, err := source.First()
	if err != nil {
		return 0, fmt.Errorf("read first migration: %w", err)
	}
	for {
		next, err := source.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			return version, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read migration after %d: %w", version, err)
		}
		version = next
	}
}

// Status 返回目前版本與最新版本；尚未遷移時 Current 為 0
func (m *Migrator) Status() (Status, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, fmt.Errorf("read schema version: %w", err)
	}
	return Status{Current: version, Latest: m.latest, Dirty: dirty}, nil
}

// Up 套用所有未套用的遷移
//
// 髒狀態不自動修復：中斷的遷移可能只執行了一半。
func (m *Migrator) Up() error {
	status, err := m.Status()
	if err != nil {
		return err
	}
	if status.Dirty {
		return fmt.Errorf("%w at version %d, run `rankctl migrate force <version>` after checking the schema",
			ErrDirty, status.Current)
	}
	if status.Pending() == 0 {
		m.logger.Info("schema up to date", "version", status.Current)
		return nil
	}

	m.logger.Info("applying migrations", "from", status.Current, "to", status.Latest)
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	m.logger.Info("schema migrated", "version", status.Latest)
	return nil
}

// Steps 前進（n > 0）或回滾（n < 0）n 個版本
func (m *Migrator) Steps(n int) error {
	if n == 0 {
		return nil
	}
	if err := m.migrate.Steps(n); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migrate %d steps: %w", n, err)
	}

	status, err := m.Status()
	if err != nil {
		return err
	}
	m.logger.Info("schema moved", "steps", n, "version", status.Current)
	return nil
}

// Down 回滾一個版本
func (m *Migrator) Down() error {
	return m.Steps(-1)
}

// Force 標記版本並清除髒狀態（不執行任何 SQL）
func (m *Migrator) Force(version int) error {
	if version < 0 || uint(version) > m.latest {
		return fmt.Errorf("version %d out of range [0, %d]", version, m.latest)
	}
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	m.logger.Warn("schema version forced", "version", version)
	return nil
}

// Close 關閉遷移來源與資料庫連線
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}

// migrateLogger 把 golang-migrate 的輸出轉到 slog
type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool {
	return false
}

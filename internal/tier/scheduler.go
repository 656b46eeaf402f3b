// Package tier 定期重新計算各範圍的排名並晉升商品等級
//
// 一次評估流程（每個省）：
//
//	ReadCohort(省) ──> 省前 N 名
//	     │
//	     └─ 依蘇木分組 ──> 各蘇木前 N 名
//	                         │
//	     NextTier(目前等級, 在蘇木名單, 在省名單)
//	                         │
//	             Promote（條件更新）──> Notify
//
// 晉升寫入成功後才通知；通知失敗只記錄，不回滾等級。
package tier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/notify"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/ranking"
	apperrors "github.com/eerdenee/nutgiin-delguur-sub001/pkg/errors"
)

// Store 評估流程需要的存儲操作
type Store interface {
	ListProvinces(ctx context.Context) ([]string, error)
	ReadCohort(ctx context.Context, province, settlement string) ([]listing.Listing, error)
	Promote(ctx context.Context, p ranking.Promotion) error
}

// Config 排程參數
type Config struct {
	// Interval 評估間隔（預設 1 小時）
	Interval time.Duration

	// Clock 取得目前時間；nil 時使用 time.Now
	Clock func() time.Time
}

// Report 一次評估的結果
type Report struct {
	Provinces    int                 `json:"provinces"`
	Evaluated    int                 `json:"evaluated"`
	Promoted     int                 `json:"promoted"`
	Conflicts    int                 `json:"conflicts"`
	NotifyFailed int                 `json:"notify_failed"`
	Skipped      bool                `json:"skipped"`
	Duration     time.Duration       `json:"duration"`
	Promotions   []ranking.Promotion `json:"promotions,omitempty"`
}

// Scheduler 等級評估排程器
type Scheduler struct {
	store      Store
	classifier *ranking.Classifier
	notifier   notify.Notifier
	cfg        Config
	logger     *slog.Logger

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler 創建排程器
func NewScheduler(store Store, classifier *ranking.Classifier, notifier notify.Notifier, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Scheduler{
		store:      store,
		classifier: classifier,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger.With("component", "tier_scheduler"),
		stop:       make(chan struct{}),
	}
}

// Start 啟動後台評估 goroutine
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop 停止排程並等待進行中的評估結束
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(context.Background()); err != nil {
				s.logger.Error("tier evaluation finished with errors", "error", err)
			}
		case <-s.stop:
			return
		}
	}
}

// RunOnce 立即執行一次評估
//
// 單一省讀取失敗不影響其他省；所有錯誤合併後返回。
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("tier evaluation already in progress, skipping")
		return Report{Skipped: true}, nil
	}
	defer s.running.Store(false)

	start := time.Now()
	now := s.cfg.Clock()
	var report Report

	provinces, err := s.store.ListProvinces(ctx)
	if err != nil {
		return report, fmt.Errorf("list provinces: %w", err)
	}

	var errs []error
	for _, province := range provinces {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.evaluateProvince(ctx, province, now, &report); err != nil {
			s.logger.Error("evaluate province failed", "province", province, "error", err)
			errs = append(errs, fmt.Errorf("province %s: %w", province, err))
			continue
		}
		report.Provinces++
	}

	report.Duration = time.Since(start)
	s.logger.Info("tier evaluation completed",
		"provinces", report.Provinces,
		"evaluated", report.Evaluated,
		"promoted", report.Promoted,
		"conflicts", report.Conflicts,
		"duration", report.Duration)

	return report, errors.Join(errs...)
}

func (s *Scheduler) evaluateProvince(ctx context.Context, province string, now time.Time, report *Report) error {
	cohort, err := s.store.ReadCohort(ctx, province, "")
	if err != nil {
		return fmt.Errorf("read cohort: %w", err)
	}

	provinceTop := s.classifier.ComputeTopSet(cohort, province, "", now)

	settlementTops := make(map[string]ranking.TopSet)
	for _, l := range cohort {
		settlement := l.Location.Settlement
		if settlement == "" {
			continue
		}
		if _, ok := settlementTops[settlement]; !ok {
			settlementTops[settlement] = s.classifier.ComputeTopSet(cohort, province, settlement, now)
		}
	}

	for i := range cohort {
		l := &cohort[i]
		report.Evaluated++

		next, promoted := ranking.NextTier(l.Tier,
			settlementTops[l.Location.Settlement].Has(l.ID),
			provinceTop.Has(l.ID))
		if !promoted {
			continue
		}

		p := ranking.NewPromotion(l, next, s.classifier.Scorer().ScoreListing(l, now), now)
		if err := s.store.Promote(ctx, p); err != nil {
			if apperrors.IsConflict(err) || apperrors.IsNotFound(err) {
				report.Conflicts++
				s.logger.Info("promotion skipped", "listing_id", l.ID, "reason", err)
				continue
			}
			return fmt.Errorf("promote %s: %w", l.ID, err)
		}

		report.Promoted++
		report.Promotions = append(report.Promotions, p)

		if err := s.notifier.Notify(ctx, p); err != nil {
			report.NotifyFailed++
			s.logger.Warn("promotion notification failed",
				"listing_id", p.ListingID,
				"to", p.To,
				"error", err)
		}
	}

	return nil
}

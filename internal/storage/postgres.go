package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/ranking"
	apperrors "github.com/eerdenee/nutgiin-delguur-sub001/pkg/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres PostgreSQL 存儲實現
//
// 系統設計考量：
//
//  1. 表結構設計（見 internal/migrations）：
//     - listings：每個計數器一個 BIGINT 欄位，CHECK >= 0
//     - tier_promotions：晉升歷史（審計與通知重送）
//
//  2. 索引策略：
//     - INDEX (province, settlement)：範圍排名查詢
//     - INDEX (tier)：全國級商品查詢
//
//  3. 併發控制：
//     - UPDATE ... SET col = GREATEST(col + $2, 0)：原子加法，不需先讀後寫
//     - 晉升使用條件更新 WHERE tier = $from（樂觀鎖），多個排程實例不會重複晉升
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres 創建 PostgreSQL 存儲實例（連線池由調用方管理生命週期）
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const listingColumns = `id, owner_id, title, province, settlement,
	views, saves, call_clicks, chat_clicks, shares, tier, created_at`

// Create 新增商品
func (p *Postgres) Create(ctx context.Context, l *listing.Listing) error {
	if err := validateNew(l); err != nil {
		return err
	}

	tier := l.Tier
	if tier == "" {
		tier = listing.TierSettlement
	}
	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO listings (id, owner_id, title, province, settlement,
			views, saves, call_clicks, chat_clicks, shares, tier, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := p.pool.Exec(ctx, query,
		l.ID, l.OwnerID, l.Title, l.Location.Province, l.Location.Settlement,
		l.Counters.Views, l.Counters.Saves, l.Counters.CallClicks, l.Counters.ChatClicks, l.Counters.Shares,
		string(tier), createdAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrListingExists.WithDetails(l.ID)
		}
		return fmt.Errorf("insert listing: %w", err)
	}

	return nil
}

// PersistIncrement 原子累加計數欄位
//
// SQL：UPDATE listings SET {col} = GREATEST({col} + $2, 0) WHERE id = $1
//
// 欄位名稱來自 listing.Kind 白名單，不會有注入風險。
func (p *Postgres) PersistIncrement(ctx context.Context, listingID string, kind listing.Kind, amount int64) error {
	column, ok := kind.Column()
	if !ok {
		return apperrors.ErrInvalidCounterKind.WithDetails(string(kind))
	}

	query := fmt.Sprintf(
		`UPDATE listings SET %[1]s = GREATEST(%[1]s + $2, 0), updated_at = NOW() WHERE id = $1`,
		column,
	)

	tag, err := p.pool.Exec(ctx, query, listingID, amount)
	if err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrListingNotFound.WithDetails(listingID)
	}

	return nil
}

// ReadCounters 讀取單一商品
func (p *Postgres) ReadCounters(ctx context.Context, listingID string) (*listing.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	l, err := scanListing(p.pool.QueryRow(ctx, query, listingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrListingNotFound.WithDetails(listingID)
		}
		return nil, fmt.Errorf("read listing: %w", err)
	}

	return l, nil
}

// ReadCohort 讀取範圍內的商品；settlement 為空時讀取整個省
func (p *Postgres) ReadCohort(ctx context.Context, province, settlement string) ([]listing.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE province = $1 AND ($2 = '' OR settlement = $2)
		ORDER BY created_at, id
	`

	return p.queryListings(ctx, query, province, settlement)
}

// Exists 檢查商品是否存在（HTTP 寫入緩衝區前的輕量檢查）
func (p *Postgres) Exists(ctx context.Context, listingID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM listings WHERE id = $1)`, listingID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check listing: %w", err)
	}
	return exists, nil
}

// ReadFeed 讀取瀏覽者可能看得到的候選商品：全國級或同省，新的在前
//
// limit <= 0 表示不限制（LIMIT NULL）；最終是否顯示由 ranking.IsVisible 決定。
func (p *Postgres) ReadFeed(ctx context.Context, province string, limit int) ([]listing.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE tier = 'national' OR province = $1
		ORDER BY created_at DESC, id
		LIMIT NULLIF($2::bigint, 0)
	`

	return p.queryListings(ctx, query, province, int64(max(limit, 0)))
}

// ListProvinces 返回所有有商品的省
func (p *Postgres) ListProvinces(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT province FROM listings ORDER BY province`)
	if err != nil {
		return nil, fmt.Errorf("list provinces: %w", err)
	}

	provinces, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan provinces: %w", err)
	}
	return provinces, nil
}

// Promote 寫入等級晉升並記錄歷史（同一事務）
//
// 條件更新 WHERE tier = p.From：等級已被其他實例改變時返回 ErrTierConflict。
func (p *Postgres) Promote(ctx context.Context, promo ranking.Promotion) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin promotion: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE listings SET tier = $2, updated_at = NOW() WHERE id = $1 AND tier = $3`,
		promo.ListingID, string(promo.To), string(promo.From),
	)
	if err != nil {
		return fmt.Errorf("update tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM listings WHERE id = $1)`, promo.ListingID).Scan(&exists); err != nil {
			return fmt.Errorf("check listing: %w", err)
		}
		if !exists {
			return apperrors.ErrListingNotFound.WithDetails(promo.ListingID)
		}
		return apperrors.ErrTierConflict.WithDetails(promo.ListingID)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO tier_promotions (listing_id, from_tier, to_tier, score, message, promoted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, promo.ListingID, string(promo.From), string(promo.To), promo.Score, promo.Message, promo.At)
	if err != nil {
		return fmt.Errorf("insert promotion history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit promotion: %w", err)
	}
	return nil
}

// Ping 檢查連線
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) queryListings(ctx context.Context, query string, args ...any) ([]listing.Listing, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var result []listing.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		result = append(result, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}

	return result, nil
}

func scanListing(row pgx.Row) (*listing.Listing, error) {
	var (
		l    listing.Listing
		tier string
	)

	err := row.Scan(
		&l.ID, &l.OwnerID, &l.Title, &l.Location.Province, &l.Location.Settlement,
		&l.Counters.Views, &l.Counters.Saves, &l.Counters.CallClicks, &l.Counters.ChatClicks, &l.Counters.Shares,
		&tier, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Tier = listing.Tier(tier)
	return &l, nil
}

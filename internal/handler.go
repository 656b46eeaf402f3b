package internal

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/counter"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/ranking"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/tier"
	apperrors "github.com/eerdenee/nutgiin-delguur-sub001/pkg/errors"
	"github.com/eerdenee/nutgiin-delguur-sub001/pkg/logger"
	"github.com/google/uuid"
)

// ListingReader HTTP 層需要的讀取操作
type ListingReader interface {
	ReadCounters(ctx context.Context, listingID string) (*listing.Listing, error)
	Exists(ctx context.Context, listingID string) (bool, error)
	ReadCohort(ctx context.Context, province, settlement string) ([]listing.Listing, error)
	ReadFeed(ctx context.Context, province string, limit int) ([]listing.Listing, error)
}

// FlushRunner 手動觸發刷新
type FlushRunner interface {
	FlushOnce(ctx context.Context) counter.FlushResult
}

// TierRunner 手動觸發等級評估
type TierRunner interface {
	RunOnce(ctx context.Context) (tier.Report, error)
}

// Pinger 就緒檢查
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlerDeps Handler 的依賴
type HandlerDeps struct {
	Buffer     counter.Store
	Listings   ListingReader
	Classifier *ranking.Classifier
	Flusher    FlushRunner
	Tiers      TierRunner
	Checks     map[string]Pinger
	Clock      func() time.Time
}

// Handler HTTP 請求處理器
type Handler struct {
	deps   HandlerDeps
	logger *slog.Logger

	// known 已確認存在的商品 ID，只快取存在的結果（大小受實際商品數限制）
	known sync.Map
}

// NewHandler 創建 HTTP 處理器
func NewHandler(deps HandlerDeps, logger *slog.Logger) *Handler {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Handler{
		deps:   deps,
		logger: logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈：請求 ID -> 日誌 -> 恢復 -> 業務處理
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.requestID(h.loggerMiddleware(h.recoverer(handler)))
	}

	// 互動事件
	mux.HandleFunc("POST /api/v1/listings/{id}/{action}", wrap(h.engage))

	// 查詢
	mux.HandleFunc("GET /api/v1/listings/{id}/counters", wrap(h.counters))
	mux.HandleFunc("GET /api/v1/listings", wrap(h.feed))
	mux.HandleFunc("GET /api/v1/ranking/top", wrap(h.top))

	// 維運
	mux.HandleFunc("POST /api/v1/admin/flush", wrap(h.flush))
	mux.HandleFunc("POST /api/v1/admin/tier", wrap(h.evaluateTiers))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /ready", wrap(h.ready))

	return mux
}

// 互動事件 → 計數器種類與增量
var actions = map[string]struct {
	kind  listing.Kind
	delta int64
}{
	"view":   {listing.KindViews, 1},
	"save":   {listing.KindSaves, 1},
	"unsave": {listing.KindSaves, -1},
	"call":   {listing.KindCallClicks, 1},
	"chat":   {listing.KindChatClicks, 1},
	"share":  {listing.KindShares, 1},
}

// 請求和響應結構
type apiResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type countersResponse struct {
	ID        string                 `json:"id"`
	Tier      listing.Tier           `json:"tier"`
	Location  listing.Location       `json:"location"`
	Persisted listing.Counters       `json:"persisted"`
	Pending   map[listing.Kind]int64 `json:"pending"` // 緩衝中、尚未落盤的增量（可為負）
	Live      listing.Counters       `json:"live"`
	Score     int64                  `json:"score"`
}

type feedResponse struct {
	Viewer listing.Location `json:"viewer"`
	Items  []ranking.Ranked `json:"items"`
}

type topResponse struct {
	Province   string           `json:"province"`
	Settlement string           `json:"settlement,omitempty"`
	Threshold  int64            `json:"threshold"`
	Top        []ranking.Ranked `json:"top"`
}

// engage 記錄一次互動（只寫入緩衝區，定時批次落盤）
func (h *Handler) engage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	action, ok := actions[r.PathValue("action")]
	if !ok {
		h.respondError(w, "unknown action", http.StatusNotFound)
		return
	}

	// 不存在的商品不進緩衝區：未達門檻的項目永遠不會被刷新
	if !h.listingExists(r.Context(), id) {
		h.respondAppError(w, apperrors.ErrListingNotFound.WithDetails(id))
		return
	}

	if err := h.deps.Buffer.Increment(r.Context(), id, action.kind, action.delta); err != nil {
		h.logger.ErrorContext(r.Context(), "buffer increment failed",
			"listing_id", id, "kind", action.kind, "error", err)
		h.respondAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(apiResponse{Success: true}); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// listingExists 檢查商品是否存在
//
// 存儲不可用時放行，互動事件優先於存在檢查。
func (h *Handler) listingExists(ctx context.Context, id string) bool {
	if _, ok := h.known.Load(id); ok {
		return true
	}

	exists, err := h.deps.Listings.Exists(ctx, id)
	if err != nil {
		h.logger.WarnContext(ctx, "listing existence check failed, accepting event",
			"listing_id", id, "error", err)
		return true
	}
	if exists {
		h.known.Store(id, struct{}{})
	}
	return exists
}

// counters 返回已落盤的計數、緩衝中的增量與即時分數
func (h *Handler) counters(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithListingID(r.Context(), r.PathValue("id"))

	l, err := h.deps.Listings.ReadCounters(ctx, r.PathValue("id"))
	if err != nil {
		h.respondAppError(w, err)
		return
	}

	resp := countersResponse{
		ID:        l.ID,
		Tier:      l.Tier,
		Location:  l.Location,
		Persisted: l.Counters,
		Pending:   make(map[listing.Kind]int64),
		Live:      l.Counters,
	}

	for _, kind := range listing.Kinds() {
		pending, err := h.deps.Buffer.Peek(ctx, l.ID, kind)
		if err != nil {
			// 緩衝區不可用時只返回已落盤的數字
			h.logger.WarnContext(ctx, "peek buffer failed", "kind", kind, "error", err)
			continue
		}
		resp.Pending[kind] = pending
		resp.Live = resp.Live.Add(kind, pending)
	}

	resp.Score = h.deps.Classifier.Scorer().Score(resp.Live, l.CreatedAt, h.deps.Clock())
	h.respondJSON(w, resp)
}

// feed 依瀏覽者所在地過濾並依分數排序
func (h *Handler) feed(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	viewer := listing.Location{
		Province:   query.Get("province"),
		Settlement: query.Get("settlement"),
	}

	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	candidates, err := h.deps.Listings.ReadFeed(r.Context(), viewer.Province, 0)
	if err != nil {
		h.respondAppError(w, err)
		return
	}

	visible := ranking.FilterVisible(candidates, viewer)
	now := h.deps.Clock()
	scorer := h.deps.Classifier.Scorer()

	items := make([]ranking.Ranked, 0, len(visible))
	for i := range visible {
		items = append(items, ranking.Ranked{
			Listing: visible[i],
			Score:   scorer.ScoreListing(&visible[i], now),
		})
	}
	slices.SortStableFunc(items, func(a, b ranking.Ranked) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(items) > limit {
		items = items[:limit]
	}

	h.respondJSON(w, feedResponse{Viewer: viewer, Items: items})
}

// top 返回範圍內目前的晉級名單
func (h *Handler) top(w http.ResponseWriter, r *http.Request) {
	province := r.URL.Query().Get("province")
	settlement := r.URL.Query().Get("settlement")
	if province == "" {
		h.respondError(w, "province parameter required", http.StatusBadRequest)
		return
	}

	cohort, err := h.deps.Listings.ReadCohort(r.Context(), province, settlement)
	if err != nil {
		h.respondAppError(w, err)
		return
	}

	top := h.deps.Classifier.Top(cohort, province, settlement, h.deps.Clock())
	if top == nil {
		top = []ranking.Ranked{}
	}

	h.respondJSON(w, topResponse{
		Province:   province,
		Settlement: settlement,
		Threshold:  h.deps.Classifier.Threshold(settlement),
		Top:        top,
	})
}

// flush 立即刷新緩衝區
func (h *Handler) flush(w http.ResponseWriter, r *http.Request) {
	if h.deps.Flusher == nil {
		h.respondError(w, "flusher not configured", http.StatusServiceUnavailable)
		return
	}

	result := h.deps.Flusher.FlushOnce(r.Context())
	if result.Skipped {
		h.respondError(w, "flush already in progress", http.StatusConflict)
		return
	}
	h.respondJSON(w, result)
}

// evaluateTiers 立即執行一次等級評估
func (h *Handler) evaluateTiers(w http.ResponseWriter, r *http.Request) {
	if h.deps.Tiers == nil {
		h.respondError(w, "tier scheduler not configured", http.StatusServiceUnavailable)
		return
	}

	report, err := h.deps.Tiers.RunOnce(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "tier evaluation failed", "error", err)
		h.respondError(w, "tier evaluation failed", http.StatusInternalServerError)
		return
	}
	if report.Skipped {
		h.respondError(w, "tier evaluation already in progress", http.StatusConflict)
		return
	}
	h.respondJSON(w, report)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// ready 就緒檢查（存儲、Redis、NATS）
func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.deps.Checks {
		if err := check.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
			h.respondError(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "Ready")
}

// 中間件
// requestID 產生或沿用 X-Request-ID
func (h *Handler) requestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	}
}

// loggerMiddleware 記錄請求日誌
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以捕獲狀態碼
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(ww, r)

		h.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	}
}

// recoverer 恢復 panic
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered", "error", err)
				h.respondError(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error:   message,
	}); err != nil {
		h.logger.Error("failed to encode error response", "error", err, "message", message)
	}
}

// respondAppError 依錯誤碼對應 HTTP 狀態
func (h *Handler) respondAppError(w http.ResponseWriter, err error) {
	switch {
	case apperrors.IsNotFound(err):
		h.respondError(w, err.Error(), http.StatusNotFound)
	case apperrors.IsInvalidInput(err):
		h.respondError(w, err.Error(), http.StatusBadRequest)
	case apperrors.IsConflict(err):
		h.respondError(w, err.Error(), http.StatusConflict)
	case apperrors.IsUnavailable(err):
		h.respondError(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.Error("request failed", "error", err)
		h.respondError(w, "internal server error", http.StatusInternalServerError)
	}
}

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 200
)

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultFeedLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return min(limit, maxFeedLimit), nil
}

// responseWriter 包裝以捕獲狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

// Package errors 提供應用程式錯誤處理
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeConflict 狀態衝突（如等級已被其他流程變更）
	ErrCodeConflict = "CONFLICT"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is，錯誤碼相同即視為同一類錯誤
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 返回帶詳細資訊的副本（不修改預定義錯誤）
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	// ErrListingNotFound 商品（listing）不存在
	ErrListingNotFound = New(ErrCodeNotFound, "listing not found")

	// ErrListingExists 商品 ID 重複
	ErrListingExists = New(ErrCodeConflict, "listing already exists")

	// ErrInvalidCounterKind 未知的計數器種類
	ErrInvalidCounterKind = New(ErrCodeInvalidInput, "invalid counter kind")

	// ErrInvalidLocation 缺少省（aimag）或蘇木（sum）資訊
	ErrInvalidLocation = New(ErrCodeInvalidInput, "invalid location")

	// ErrInvalidTier 未知的可見等級
	ErrInvalidTier = New(ErrCodeInvalidInput, "invalid tier")

	// ErrTierConflict 等級已被其他流程變更
	ErrTierConflict = New(ErrCodeConflict, "tier changed concurrently")

	// ErrStoreUnavailable 持久化存儲不可用
	ErrStoreUnavailable = New(ErrCodeUnavailable, "store unavailable")
)

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsInvalidInput 檢查是否為無效輸入錯誤
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrCodeInvalidInput)
}

// IsConflict 檢查是否為狀態衝突錯誤
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsUnavailable 檢查是否為服務不可用錯誤
func IsUnavailable(err error) bool {
	return hasCode(err, ErrCodeUnavailable)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError はUIレイヤーに公開する統一エラーフォーマットを表す。
// MessageがUI表示用の`error`フィールド、Detailsが補足の`details`フィールドになる。
type APIError struct {
	Code    string // エラーコード
	Message string // ユーザー向けエラーメッセージ
	Details string // 補足情報（省略可）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	// ErrCodeUpstreamUnavailable は対話検索パスでの外部API障害。呼び出し元に伝播する。
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	// ErrCodeInvalidRequest はリクエストボディまたはパラメータの不備。
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	// ErrCodeUnauthorized はユーザーIDが特定できないリクエスト。
	ErrCodeUnauthorized = "UNAUTHORIZED"
)

// NewUpstreamUnavailableError は外部治験検索APIの障害エラーを生成する。
// 対話検索パスでのみ使用する。バックグラウンドパスの障害はログ記録のみで継続する。
func NewUpstreamUnavailableError(details string) *APIError {
	return &APIError{
		Code:    ErrCodeUpstreamUnavailable,
		Message: "The clinical trial search service is currently unavailable.",
		Details: details,
	}
}

// NewInvalidRequestError はリクエスト不備エラーを生成する。
func NewInvalidRequestError(details string) *APIError {
	return &APIError{
		Code:    ErrCodeInvalidRequest,
		Message: "The request could not be understood.",
		Details: details,
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:    ErrCodeUnauthorized,
		Message: "Authentication is required.",
	}
}

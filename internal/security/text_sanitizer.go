// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService は外部APIから取得した自由テキスト
// （適格基準、治験概要）からマークアップを除去し、
// プレーンテキストとして安全に保存・表示できる状態にする。
// bluemondayのStrictPolicyにより全タグ・全属性が除去される。
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はプレーンテキスト化機能のインターフェースを定義する。
// 治験レコードの正規化時に使用される。
type TextSanitizerService interface {
	// Sanitize は入力からすべてのHTMLタグと属性を除去したテキストを返す。
	// エスケープ済み実体参照（&amp;等）は元の文字に戻す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは許可タグを一切持たないため、script等の危険なタグだけでなく
// 整形用タグ（p, br, ul等）もすべて除去される。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力からすべてのマークアップを除去したテキストを返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicyはテキストをHTMLエスケープして返すため、実体参照を戻す
	return html.UnescapeString(s.policy.Sanitize(raw))
}

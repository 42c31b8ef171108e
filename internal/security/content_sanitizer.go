// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はユーザー投稿のチャット本文と外部フィード由来の
// レポート本文をサニタイズし、XSS攻撃などのセキュリティリスクから
// ユーザーを保護する。bluemondayライブラリの厳格ポリシーを使用し、
// 一切のHTMLタグを通過させない。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はテキストコンテンツのサニタイズ機能のインターフェースを定義する。
// チャットメッセージの配信・保存前、およびフィード取り込み時のレポート
// タイトル・本文に使用される。
type ContentSanitizerService interface {
	// Sanitize は入力から全てのHTMLタグを除去したプレーンテキストを返す。
	// script, iframe, style等のタグは中身ごと、その他のタグはタグのみ
	// 除去される。HTMLエンティティは元の文字へ復元される
	// （配信はJSON、表示はテキストノードであり、HTMLとして解釈されない）。
	// 前後の空白は除去される。空文字列の入力には空文字列を返す。
	Sanitize(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// 許可タグを一切持たない厳格ポリシーを構築する。チャット・レポートの
// 本文はプレーンテキストとして扱われ、装飾が必要な場合はクライアント側の
// 表現（マークダウン等）に委ねる。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力から全てのHTMLタグを除去したプレーンテキストを返す。
func (s *contentSanitizer) Sanitize(raw string) string {
	stripped := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}

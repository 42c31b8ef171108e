// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// クライアントに返す原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, chat, abuse, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeRoomNotFound       = "ROOM_NOT_FOUND"
	ErrCodeNotAMember         = "NOT_A_MEMBER"
	ErrCodeInvalidCoordinates = "INVALID_COORDINATES"
	ErrCodeInvalidRadius      = "INVALID_RADIUS"
	ErrCodeEmptyMessage       = "EMPTY_MESSAGE"
	ErrCodeMessageTooLong     = "MESSAGE_TOO_LONG"
	ErrCodeContentFlagged     = "CONTENT_FLAGGED"
	ErrCodeInvalidEvent       = "INVALID_EVENT"
	ErrCodeInvalidToken       = "INVALID_TOKEN"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
)

// HasCode はerrが指定コードのAPIErrorであるかを判定する。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == code
}

// AsAPIError はerrがAPIErrorである場合にそれを取り出す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return nil, false
	}
	return apiErr, true
}

// NewRoomNotFoundError はルーム未検出エラーを生成する。
// レポートが存在しない場合と非公開の場合は区別せず同一コードを返す。
func NewRoomNotFoundError(reportID string) *APIError {
	return &APIError{
		Code:     ErrCodeRoomNotFound,
		Message:  fmt.Sprintf("指定されたレポートのルームが見つかりません: %s", reportID),
		Category: "chat",
		Action:   "レポートIDを確認してください。",
	}
}

// NewNotAMemberError はルーム未参加エラーを生成する。
func NewNotAMemberError(reportID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotAMember,
		Message:  fmt.Sprintf("このルームに参加していません: %s", reportID),
		Category: "chat",
		Action:   "先にルームへ参加してください。",
	}
}

// NewInvalidCoordinatesError は無効な座標エラーを生成する。
func NewInvalidCoordinatesError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCoordinates,
		Message:  fmt.Sprintf("無効な座標です: %s", reason),
		Category: "validation",
		Action:   "緯度は-90〜90、経度は-180〜180の範囲で指定してください。",
	}
}

// NewInvalidRadiusError は無効な半径エラーを生成する。
func NewInvalidRadiusError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRadius,
		Message:  fmt.Sprintf("無効な半径です: %s", reason),
		Category: "validation",
		Action:   "半径は0以上の有限値で指定してください。",
	}
}

// NewEmptyMessageError は空メッセージエラーを生成する。
func NewEmptyMessageError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyMessage,
		Message:  "メッセージが空です。",
		Category: "validation",
		Action:   "本文を入力してください。",
	}
}

// NewMessageTooLongError はメッセージ長超過エラーを生成する。
func NewMessageTooLongError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeMessageTooLong,
		Message:  fmt.Sprintf("メッセージが長すぎます（上限%d文字）。", limit),
		Category: "validation",
		Action:   "本文を短くして再送信してください。",
	}
}

// NewContentFlaggedError は不正コンテンツ判定エラーを生成する。
// スコアの詳細は開示せず、汎用メッセージのみを返す。
// 判定の詳細はモデレーター向けにログへ記録される。
func NewContentFlaggedError() *APIError {
	return &APIError{
		Code:     ErrCodeContentFlagged,
		Message:  "この投稿は受け付けられませんでした。",
		Category: "abuse",
		Action:   "内容を見直してから再度お試しください。",
	}
}

// NewInvalidEventError は解釈できないクライアントイベントのエラーを生成する。
func NewInvalidEventError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEvent,
		Message:  fmt.Sprintf("イベントを解釈できません: %s", reason),
		Category: "validation",
		Action:   "イベント形式を確認してください。",
	}
}

// NewInvalidTokenError は資格情報検証失敗のエラーを生成する。
// 接続自体は匿名IDへのフォールバックにより継続されるため、
// このエラーが接続拒否につながることはない。
func NewInvalidTokenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  fmt.Sprintf("資格情報を検証できません: %s", reason),
		Category: "auth",
		Action:   "再ログインして新しいトークンを取得してください。",
	}
}

// NewTooManyRequestsError は頻度超過エラーを生成する。
func NewTooManyRequestsError() *APIError {
	return &APIError{
		Code:     ErrCodeTooManyRequests,
		Message:  "リクエストが多すぎます。しばらく待ってから再度お試しください。",
		Category: "system",
		Action:   "時間をおいて再度お試しください。",
	}
}

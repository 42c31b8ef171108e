// Package counter は行為者ごとのアクション頻度カウンタを提供する。
// カウンタは(行為者キー, アクション種別, 時間バケット)をキーとして
// 外部ストアに保存される。耐久性はベストエフォートであり、
// ストア障害時の扱い（フェイルオープン）は呼び出し側の責務とする。
package counter

import (
	"context"
	"time"
)

// ActionType は頻度カウンタのアクション種別を表す。
type ActionType string

const (
	// ActionSubmission はレポート投稿アクション。
	ActionSubmission ActionType = "submission"
	// ActionChat はチャットメッセージ送信アクション。
	ActionChat ActionType = "chat"
	// ActionGeneral はその他の一般アクション（参加・位置更新等）。
	ActionGeneral ActionType = "general"
)

// FrequencyCounter はスライディングウィンドウ頻度カウンタのインターフェース。
type FrequencyCounter interface {
	// IncrementAndGet は現在のウィンドウのカウンタをインクリメントし、
	// インクリメント後の値を返す。ウィンドウはwindow長の時間バケットで区切られる。
	IncrementAndGet(ctx context.Context, actorKey string, action ActionType, window time.Duration) (int64, error)
}

// BucketStart は時刻tが属するウィンドウバケットの開始時刻を返す。
func BucketStart(t time.Time, window time.Duration) time.Time {
	return t.Truncate(window)
}

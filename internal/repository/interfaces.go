// Package repository はデータ永続化のインターフェースを定義する。
// レポート・メッセージの耐久的な保存は外部コラボレータの責務であり、
// リアルタイム層はこれらのインターフェース経由で作成・参照のみを行う。
package repository

import (
	"context"

	"github.com/hitoshi/spotter/internal/model"
)

// ReportRepository はレポートデータの永続化インターフェース。
type ReportRepository interface {
	// FindByID は指定IDのレポートを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Report, error)

	// Create はレポートを作成する。
	Create(ctx context.Context, report *model.Report) error

	// ExistsBySourceGUID は外部フィード由来のレポートがGUIDで登録済みかを返す。
	// フィード取り込み時の重複排除に使用する。
	ExistsBySourceGUID(ctx context.Context, guid string) (bool, error)
}

// MessageRepository はチャットメッセージの永続化インターフェース。
type MessageRepository interface {
	// Create はメッセージを保存する。
	Create(ctx context.Context, msg *model.ChatMessage) error

	// ListRecent は指定レポートの直近メッセージを古い順でlimit件まで返す。
	ListRecent(ctx context.Context, reportID string, limit int) ([]*model.ChatMessage, error)
}

// UserDirectoryRepository は通知対象ユーザーの参照インターフェース。
// 通知設定と最終既知位置はプラットフォーム本体が管理しており、
// リアルタイム層は読み取り専用のスナップショットとして消費する。
type UserDirectoryRepository interface {
	// FindNotifiable は通知を有効化し位置情報が既知の全ユーザーを返す。
	FindNotifiable(ctx context.Context) ([]*model.NotifyTarget, error)
}

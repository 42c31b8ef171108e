// Package model はドメインモデルを定義する。
package model

import "time"

// ReportCategory は目撃情報のカテゴリを表す。
type ReportCategory string

const (
	// ReportCategoryWildlife は野生動物の目撃を示す。
	ReportCategoryWildlife ReportCategory = "wildlife"
	// ReportCategoryHazard は危険箇所・災害の目撃を示す。
	ReportCategoryHazard ReportCategory = "hazard"
	// ReportCategoryLostFound は落とし物・迷子の目撃を示す。
	ReportCategoryLostFound ReportCategory = "lost_found"
	// ReportCategoryOther はその他の目撃を示す。
	ReportCategoryOther ReportCategory = "other"
)

// Report は位置情報付きの目撃レポートを表す。
// レポート本体の永続化は外部ストアの責務であり、
// リアルタイム層は作成・参照のみを行う。
type Report struct {
	ID          string
	ReporterID  string
	Category    ReportCategory
	Title       string
	Description string
	Latitude    float64
	Longitude   float64
	Hidden      bool
	// SourceGUID は外部フィード取り込み時の重複排除キー。
	// ユーザー投稿のレポートでは空文字列。
	SourceGUID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NotifyTarget は近接通知の候補ユーザーを表す。
// 通知を有効化し、位置情報が既知のユーザーのみが対象となる。
// UserDirectoryから読み取り専用スナップショットとして取得される。
type NotifyTarget struct {
	UserID    string
	Latitude  float64
	Longitude float64
	RadiusKm  float64
}

package model

import "time"

// ChatMessage はレポートのチャットルームに投稿されたメッセージを表す。
// 永続化はMessageRepositoryに委譲し、リアルタイム層は
// サイズ・非空の検証と転送のみを行う。
type ChatMessage struct {
	ID         string
	ReportID   string
	AuthorID   string
	AuthorName string
	Anonymous  bool
	Text       string
	CreatedAt  time.Time
}

// MaxMessageRunes はチャットメッセージの最大文字数（ルーン単位）。
const MaxMessageRunes = 2000

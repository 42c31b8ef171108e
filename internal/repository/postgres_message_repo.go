package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/spotter/internal/model"
)

// PostgresMessageRepo はPostgreSQLを使用したチャットメッセージリポジトリ。
type PostgresMessageRepo struct {
	db *sql.DB
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

// Create はメッセージを保存する。
func (r *PostgresMessageRepo) Create(ctx context.Context, msg *model.ChatMessage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, report_id, author_id, author_name, anonymous, text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ReportID, msg.AuthorID, msg.AuthorName, msg.Anonymous, msg.Text, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}

	return nil
}

// ListRecent は指定レポートの直近メッセージを古い順でlimit件まで返す。
// IDはULIDで時刻順ソート可能なため、ID降順で直近limit件を取り出してから反転する。
func (r *PostgresMessageRepo) ListRecent(ctx context.Context, reportID string, limit int) ([]*model.ChatMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, report_id, author_id, author_name, anonymous, text, created_at
		 FROM chat_messages
		 WHERE report_id = $1
		 ORDER BY id DESC
		 LIMIT $2`,
		reportID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	defer rows.Close()

	var messages []*model.ChatMessage
	for rows.Next() {
		msg := &model.ChatMessage{}
		if err := rows.Scan(
			&msg.ID, &msg.ReportID, &msg.AuthorID, &msg.AuthorName,
			&msg.Anonymous, &msg.Text, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat messages: %w", err)
	}

	// 古い順に反転
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

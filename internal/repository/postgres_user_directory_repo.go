package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/spotter/internal/model"
)

// PostgresUserDirectoryRepo はPostgreSQLを使用した通知対象ユーザーディレクトリ。
type PostgresUserDirectoryRepo struct {
	db *sql.DB
}

// NewPostgresUserDirectoryRepo はPostgresUserDirectoryRepoを生成する。
func NewPostgresUserDirectoryRepo(db *sql.DB) *PostgresUserDirectoryRepo {
	return &PostgresUserDirectoryRepo{db: db}
}

// FindNotifiable は通知を有効化し位置情報が既知の全ユーザーを返す。
func (r *PostgresUserDirectoryRepo) FindNotifiable(ctx context.Context) ([]*model.NotifyTarget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, last_latitude, last_longitude, notify_radius_km
		 FROM users
		 WHERE notify_enabled = true
		   AND last_latitude IS NOT NULL
		   AND last_longitude IS NOT NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find notifiable users: %w", err)
	}
	defer rows.Close()

	var targets []*model.NotifyTarget
	for rows.Next() {
		t := &model.NotifyTarget{}
		if err := rows.Scan(&t.UserID, &t.Latitude, &t.Longitude, &t.RadiusKm); err != nil {
			return nil, fmt.Errorf("failed to scan notify target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notify targets: %w", err)
	}

	return targets, nil
}

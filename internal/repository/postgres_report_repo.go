package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/spotter/internal/model"
)

// PostgresReportRepo はPostgreSQLを使用したレポートリポジトリ。
type PostgresReportRepo struct {
	db *sql.DB
}

// NewPostgresReportRepo はPostgresReportRepoを生成する。
func NewPostgresReportRepo(db *sql.DB) *PostgresReportRepo {
	return &PostgresReportRepo{db: db}
}

// FindByID は指定IDのレポートを取得する。見つからない場合はnilを返す。
func (r *PostgresReportRepo) FindByID(ctx context.Context, id string) (*model.Report, error) {
	report := &model.Report{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, reporter_id, category, title, description, latitude, longitude,
		        hidden, source_guid, created_at, updated_at
		 FROM reports WHERE id = $1`,
		id,
	).Scan(
		&report.ID, &report.ReporterID, &report.Category, &report.Title,
		&report.Description, &report.Latitude, &report.Longitude,
		&report.Hidden, &report.SourceGUID, &report.CreatedAt, &report.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find report by ID: %w", err)
	}

	return report, nil
}

// Create はレポートを作成する。
func (r *PostgresReportRepo) Create(ctx context.Context, report *model.Report) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reports (id, reporter_id, category, title, description,
		                      latitude, longitude, hidden, source_guid, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		report.ID, report.ReporterID, report.Category, report.Title, report.Description,
		report.Latitude, report.Longitude, report.Hidden, report.SourceGUID,
		report.CreatedAt, report.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	return nil
}

// ExistsBySourceGUID は外部フィード由来のレポートがGUIDで登録済みかを返す。
func (r *PostgresReportRepo) ExistsBySourceGUID(ctx context.Context, guid string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM reports WHERE source_guid = $1)`,
		guid,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check report source GUID: %w", err)
	}

	return exists, nil
}

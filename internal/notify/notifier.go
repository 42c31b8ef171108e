// Package notify は新規レポートの近接ユーザーへのプッシュ通知を提供する。
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/spotter/internal/geo"
	"github.com/hitoshi/spotter/internal/model"
	"github.com/hitoshi/spotter/internal/protocol"
	"github.com/hitoshi/spotter/internal/repository"
)

// Pusher はユーザー単位のイベント配信インターフェース。
// registry.Registryが実装する。
type Pusher interface {
	// PushToUser はユーザーの全ライブ接続へイベントを送信し、
	// 配信に成功した接続数を返す。
	PushToUser(userID string, event protocol.ServerEvent) int
}

// ProximityNotifier は新規レポートの発生地点から各ユーザーの
// 通知半径内にいるユーザーを抽出し、new_nearby_report通知を配信する。
type ProximityNotifier struct {
	users  repository.UserDirectoryRepository
	pusher Pusher
	logger *slog.Logger
}

func NewProximityNotifier(users repository.UserDirectoryRepository, pusher Pusher, logger *slog.Logger) *ProximityNotifier {
	return &ProximityNotifier{
		users:  users,
		pusher: pusher,
		logger: logger,
	}
}

// OnNewReport はレポート作成時に呼ばれ、近接ユーザーへ通知を配信する。
// 半径の判定は候補ユーザーごとに本人の設定値で行う。通知が届いたユーザー数
// （接続数ではない）を返す。レポート投稿者本人には通知しない。
//
// 候補1人の判定失敗は警告を記録して残りの候補の処理を続行する。
// 全体が失敗するのはユーザー一覧の取得に失敗した場合のみ。
func (n *ProximityNotifier) OnNewReport(ctx context.Context, report *model.Report) (int, error) {
	origin := geo.Point{Lat: report.Latitude, Lon: report.Longitude}
	if err := origin.Validate(); err != nil {
		return 0, fmt.Errorf("report has invalid coordinates: %w", err)
	}

	targets, err := n.users.FindNotifiable(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load notifiable users: %w", err)
	}

	notified := 0
	for _, target := range targets {
		select {
		case <-ctx.Done():
			return notified, ctx.Err()
		default:
		}

		if target.UserID == report.ReporterID {
			continue
		}

		candidate := geo.Point{Lat: target.Latitude, Lon: target.Longitude}
		within, err := geo.IsWithinRadius(origin, candidate, target.RadiusKm)
		if err != nil {
			// 不正な保存位置を持つユーザーはスキップし、他の候補は続行する
			n.logger.Warn("近接判定に失敗しました",
				slog.String("user_id", target.UserID),
				slog.String("report_id", report.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !within {
			continue
		}

		distance, err := geo.DistanceKm(origin, candidate)
		if err != nil {
			continue
		}

		event := protocol.NewNewNearbyReport(
			report.ID,
			report.Title,
			string(report.Category),
			distance,
			report.Latitude,
			report.Longitude,
		)
		if n.pusher.PushToUser(target.UserID, event) > 0 {
			notified++
		}
	}

	n.logger.Info("近接通知を配信しました",
		slog.String("report_id", report.ID),
		slog.Int("candidates", len(targets)),
		slog.Int("notified", notified),
	)
	return notified, nil
}

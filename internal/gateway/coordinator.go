// Package gateway はWebSocket境界とイベント調整を提供する。
//
// Coordinator は受信イベントごとに濫用判定・永続化・ルーム連携を調整する
// 薄い手続き層であり、自身は状態を持たない。状態はすべて接続台帳と
// ルームハブが保持する。
package gateway

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/hitoshi/spotter/internal/abuse"
	"github.com/hitoshi/spotter/internal/counter"
	"github.com/hitoshi/spotter/internal/metrics"
	"github.com/hitoshi/spotter/internal/model"
	"github.com/hitoshi/spotter/internal/protocol"
	"github.com/hitoshi/spotter/internal/registry"
	"github.com/hitoshi/spotter/internal/repository"
	"github.com/hitoshi/spotter/internal/room"
	"github.com/hitoshi/spotter/internal/security"
)

// Coordinator はクライアントイベントを検証し、各コンポーネントへ振り分ける。
type Coordinator struct {
	registry  *registry.Registry
	hub       *room.Hub
	scorer    *abuse.Scorer
	sanitizer security.ContentSanitizerService
	reports   repository.ReportRepository
	messages  repository.MessageRepository
	metrics   metrics.MetricsCollector
	logger    *slog.Logger

	historyLimit int
}

func NewCoordinator(
	reg *registry.Registry,
	hub *room.Hub,
	scorer *abuse.Scorer,
	sanitizer security.ContentSanitizerService,
	reports repository.ReportRepository,
	messages repository.MessageRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	historyLimit int,
) *Coordinator {
	return &Coordinator{
		registry:     reg,
		hub:          hub,
		scorer:       scorer,
		sanitizer:    sanitizer,
		reports:      reports,
		messages:     messages,
		metrics:      collector,
		logger:       logger,
		historyLimit: historyLimit,
	}
}

// HandleEvent は受信イベントを種別に応じて処理する。
// 処理エラーは発信者のみに届くerrorイベントへ変換され、接続は維持される。
func (c *Coordinator) HandleEvent(ctx context.Context, conn *registry.Connection, event protocol.ClientEvent) {
	var err error
	switch event.Type {
	case protocol.ClientJoinRoom:
		err = c.handleJoin(ctx, conn, event)
	case protocol.ClientLeaveRoom:
		err = c.handleLeave(conn, event)
	case protocol.ClientChatMessage:
		err = c.handleChat(ctx, conn, event)
	case protocol.ClientUpdateLocation:
		err = c.handleUpdateLocation(conn, event)
	case protocol.ClientTypingStart:
		err = c.handleTyping(conn, event, true)
	case protocol.ClientTypingStop:
		err = c.handleTyping(conn, event, false)
	default:
		err = model.NewInvalidEventError("unknown event type: " + event.Type)
	}

	if err != nil {
		c.sendError(conn, err)
	}
}

// Disconnect は切断された接続の後始末を行う。
// 台帳からの除去と、参加中だった全ルームからのデタッチを行う。
func (c *Coordinator) Disconnect(connID string) {
	rooms := c.registry.Deregister(connID)
	for _, roomID := range rooms {
		c.hub.Detach(roomID, connID)
	}
	c.metrics.SetActiveConnections(c.registry.Count())
}

func (c *Coordinator) handleJoin(ctx context.Context, conn *registry.Connection, event protocol.ClientEvent) error {
	if event.ReportID == "" {
		return model.NewInvalidEventError("join_room requires report_id")
	}

	if c.scorer.OverLimit(ctx, conn.Identity.UserID, counter.ActionGeneral) {
		return model.NewTooManyRequestsError()
	}

	report, err := c.reports.FindByID(ctx, event.ReportID)
	if err != nil {
		c.logger.Warn("レポート参照に失敗しました",
			slog.String("report_id", event.ReportID),
			slog.String("error", err.Error()),
		)
		return model.NewRoomNotFoundError(event.ReportID)
	}
	// 非表示レポートは存在を秘匿するため、未存在と同じ応答を返す
	if report == nil || report.Hidden {
		return model.NewRoomNotFoundError(event.ReportID)
	}

	history := c.fetchHistory(ctx, event.ReportID)
	if err := c.hub.Join(ctx, event.ReportID, conn.ID, conn.Identity.Summary(), history); err != nil {
		return err
	}

	c.metrics.SetActiveRooms(c.hub.RoomCount())
	return nil
}

// fetchHistory は参加時に送る直近メッセージ一覧を取得する。
// ストア障害時は空の履歴で続行する。参加自体は失敗させない。
func (c *Coordinator) fetchHistory(ctx context.Context, reportID string) protocol.ChatHistory {
	stored, err := c.messages.ListRecent(ctx, reportID, c.historyLimit)
	if err != nil {
		c.logger.Warn("履歴取得に失敗したため空の履歴で続行します",
			slog.String("report_id", reportID),
			slog.String("error", err.Error()),
		)
		return protocol.NewChatHistory(reportID, nil)
	}

	wire := make([]protocol.Message, 0, len(stored))
	for _, msg := range stored {
		wire = append(wire, protocol.MessageFromModel(msg))
	}
	return protocol.NewChatHistory(reportID, wire)
}

func (c *Coordinator) handleLeave(conn *registry.Connection, event protocol.ClientEvent) error {
	if event.ReportID == "" {
		return model.NewInvalidEventError("leave_room requires report_id")
	}
	if !c.registry.InRoom(conn.ID, event.ReportID) {
		return model.NewNotAMemberError(event.ReportID)
	}

	c.hub.Leave(event.ReportID, conn.ID)
	c.metrics.SetActiveRooms(c.hub.RoomCount())
	return nil
}

func (c *Coordinator) handleChat(ctx context.Context, conn *registry.Connection, event protocol.ClientEvent) error {
	if event.ReportID == "" {
		return model.NewInvalidEventError("chat_message requires report_id")
	}
	if !c.registry.InRoom(conn.ID, event.ReportID) {
		return model.NewNotAMemberError(event.ReportID)
	}

	text := strings.TrimSpace(event.Text)
	if text == "" {
		return model.NewEmptyMessageError()
	}
	if utf8.RuneCountInString(text) > model.MaxMessageRunes {
		return model.NewMessageTooLongError(model.MaxMessageRunes)
	}

	text = c.sanitizer.Sanitize(text)
	if text == "" {
		return model.NewEmptyMessageError()
	}

	assessment := c.scorer.Score(ctx, conn.Identity.UserID, counter.ActionChat, text)
	switch assessment.Decision {
	case abuse.DecisionBlock:
		c.metrics.RecordMessageBlocked()
		// 詳細はモデレーターログ側に記録済み。発信者には汎用メッセージのみ返す。
		return model.NewContentFlaggedError()
	case abuse.DecisionFlag:
		c.metrics.RecordMessageFlagged()
	}

	msg := &model.ChatMessage{
		ID:         ulid.Make().String(),
		ReportID:   event.ReportID,
		AuthorID:   conn.Identity.UserID,
		AuthorName: c.authorName(conn, event),
		Anonymous:  !conn.Identity.Authenticated,
		Text:       text,
		CreatedAt:  time.Now().UTC(),
	}

	// 永続化はこの接続のゴルーチンで行い、ルームの処理ループには持ち込まない。
	// ストア障害時も配信は続行する（履歴には残らない）。
	if err := c.messages.Create(ctx, msg); err != nil {
		c.logger.Warn("メッセージ永続化に失敗しましたが配信は続行します",
			slog.String("report_id", event.ReportID),
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
	}

	c.metrics.RecordMessage()
	c.hub.Publish(event.ReportID, protocol.NewNewChatMessage(event.ReportID, protocol.MessageFromModel(msg)))
	return nil
}

// authorName は配信に使う表示名を決定する。
// 匿名ユーザーはイベントで名乗った表示名を使用できる。
// 認証済みユーザーの表示名はトークン由来で固定される。
func (c *Coordinator) authorName(conn *registry.Connection, event protocol.ClientEvent) string {
	if !conn.Identity.Authenticated {
		if name := strings.TrimSpace(event.DisplayName); name != "" {
			return name
		}
	}
	return conn.Identity.DisplayName
}

func (c *Coordinator) handleUpdateLocation(conn *registry.Connection, event protocol.ClientEvent) error {
	if event.Lat == nil || event.Lon == nil {
		return model.NewInvalidEventError("update_location requires lat and lon")
	}

	if err := c.registry.UpdateLocation(conn.ID, *event.Lat, *event.Lon); err != nil {
		return err
	}

	c.registry.Send(conn.ID, protocol.NewLocationAck(*event.Lat, *event.Lon))
	return nil
}

func (c *Coordinator) handleTyping(conn *registry.Connection, event protocol.ClientEvent, isTyping bool) error {
	if event.ReportID == "" {
		return model.NewInvalidEventError("typing events require report_id")
	}
	// 未参加ルームへのtypingは黙って無視される（ハブ側で弾かれる）
	c.hub.SetTyping(event.ReportID, conn.ID, isTyping)
	return nil
}

// sendError は処理エラーを発信者のみへ届くerrorイベントへ変換する。
func (c *Coordinator) sendError(conn *registry.Connection, err error) {
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		c.logger.Error("未分類のエラーが発生しました",
			slog.String("connection_id", conn.ID),
			slog.String("error", err.Error()),
		)
		apiErr = model.NewInvalidEventError("internal error")
	}
	c.registry.Send(conn.ID, protocol.NewErrorEvent(apiErr))
}

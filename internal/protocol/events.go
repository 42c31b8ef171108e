// Package protocol はクライアント・サーバー間のワイヤイベントを定義する。
// 全イベントはJSONでエンコードされ、typeフィールドで種別をタグ付けする。
package protocol

import (
	"time"

	"github.com/hitoshi/spotter/internal/model"
)

// クライアント→サーバーのイベント種別
const (
	ClientJoinRoom       = "join_room"
	ClientLeaveRoom      = "leave_room"
	ClientChatMessage    = "chat_message"
	ClientUpdateLocation = "update_location"
	ClientTypingStart    = "typing_start"
	ClientTypingStop     = "typing_stop"
)

// ClientEvent はクライアントから受信するイベント。
// 種別ごとに使用するフィールドが異なり、不要フィールドは無視される。
type ClientEvent struct {
	Type     string `json:"type"`
	ReportID string `json:"report_id,omitempty"`
	Text     string `json:"text,omitempty"`
	// DisplayName は匿名ユーザーがチャット時に名乗る表示名（任意）。
	DisplayName string   `json:"display_name,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lon         *float64 `json:"lon,omitempty"`
}

// ServerEvent はサーバーからクライアントへ送出されるイベント。
type ServerEvent interface {
	// EventType はワイヤ上のtypeタグを返す。
	EventType() string
}

// サーバー→クライアントのイベント種別
const (
	ServerChatHistory    = "chat_history"
	ServerNewChatMessage = "new_chat_message"
	ServerMemberJoined   = "member_joined"
	ServerMemberLeft     = "member_left"
	ServerTypingUpdate   = "typing_update"
	ServerNotification   = "notification"
	ServerError          = "error"
	ServerLocationAck    = "location_ack"
)

// Message はワイヤ上のチャットメッセージ表現。
type Message struct {
	ID         string    `json:"id"`
	ReportID   string    `json:"report_id"`
	AuthorName string    `json:"author_name"`
	Anonymous  bool      `json:"anonymous"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessageFromModel はドメインモデルからワイヤ表現へ変換する。
// AuthorIDは匿名性維持のためワイヤ上に露出しない。
func MessageFromModel(m *model.ChatMessage) Message {
	return Message{
		ID:         m.ID,
		ReportID:   m.ReportID,
		AuthorName: m.AuthorName,
		Anonymous:  m.Anonymous,
		Text:       m.Text,
		CreatedAt:  m.CreatedAt,
	}
}

// ChatHistory はルーム参加時に1回だけ送信される直近メッセージ一覧。
type ChatHistory struct {
	Type     string    `json:"type"`
	ReportID string    `json:"report_id"`
	Messages []Message `json:"messages"`
}

// NewChatHistory はChatHistoryイベントを生成する。
func NewChatHistory(reportID string, messages []Message) ChatHistory {
	if messages == nil {
		messages = []Message{}
	}
	return ChatHistory{Type: ServerChatHistory, ReportID: reportID, Messages: messages}
}

// EventType はワイヤ上のtypeタグを返す。
func (e ChatHistory) EventType() string { return ServerChatHistory }

// NewChatMessage はルームへの新着メッセージの通知。
type NewChatMessage struct {
	Type     string  `json:"type"`
	ReportID string  `json:"report_id"`
	Message  Message `json:"message"`
}

// NewNewChatMessage はNewChatMessageイベントを生成する。
func NewNewChatMessage(reportID string, msg Message) NewChatMessage {
	return NewChatMessage{Type: ServerNewChatMessage, ReportID: reportID, Message: msg}
}

// EventType はワイヤ上のtypeタグを返す。
func (e NewChatMessage) EventType() string { return ServerNewChatMessage }

// MemberJoined はルームへのメンバー参加通知。参加者本人には送信されない。
type MemberJoined struct {
	Type     string                `json:"type"`
	ReportID string                `json:"report_id"`
	Member   model.IdentitySummary `json:"member"`
}

// NewMemberJoined はMemberJoinedイベントを生成する。
func NewMemberJoined(reportID string, member model.IdentitySummary) MemberJoined {
	return MemberJoined{Type: ServerMemberJoined, ReportID: reportID, Member: member}
}

// EventType はワイヤ上のtypeタグを返す。
func (e MemberJoined) EventType() string { return ServerMemberJoined }

// MemberLeft はルームからのメンバー退出通知。
type MemberLeft struct {
	Type     string                `json:"type"`
	ReportID string                `json:"report_id"`
	Member   model.IdentitySummary `json:"member"`
}

// NewMemberLeft はMemberLeftイベントを生成する。
func NewMemberLeft(reportID string, member model.IdentitySummary) MemberLeft {
	return MemberLeft{Type: ServerMemberLeft, ReportID: reportID, Member: member}
}

// EventType はワイヤ上のtypeタグを返す。
func (e MemberLeft) EventType() string { return ServerMemberLeft }

// TypingUpdate は入力中状態の変化通知。
type TypingUpdate struct {
	Type         string `json:"type"`
	ReportID     string `json:"report_id"`
	ConnectionID string `json:"connection_id"`
	IsTyping     bool   `json:"is_typing"`
}

// NewTypingUpdate はTypingUpdateイベントを生成する。
func NewTypingUpdate(reportID, connectionID string, isTyping bool) TypingUpdate {
	return TypingUpdate{
		Type:         ServerTypingUpdate,
		ReportID:     reportID,
		ConnectionID: connectionID,
		IsTyping:     isTyping,
	}
}

// EventType はワイヤ上のtypeタグを返す。
func (e TypingUpdate) EventType() string { return ServerTypingUpdate }

// ErrorEvent はクライアントへのエラー通知。
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

// NewErrorEvent はAPIErrorからErrorEventを生成する。
func NewErrorEvent(err *model.APIError) ErrorEvent {
	return ErrorEvent{
		Type:    ServerError,
		Code:    err.Code,
		Message: err.Message,
		Action:  err.Action,
	}
}

// EventType はワイヤ上のtypeタグを返す。
func (e ErrorEvent) EventType() string { return ServerError }

// LocationAck は位置更新の受理通知。
type LocationAck struct {
	Type string  `json:"type"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// NewLocationAck はLocationAckイベントを生成する。
func NewLocationAck(lat, lon float64) LocationAck {
	return LocationAck{Type: ServerLocationAck, Lat: lat, Lon: lon}
}

// EventType はワイヤ上のtypeタグを返す。
func (e LocationAck) EventType() string { return ServerLocationAck }
